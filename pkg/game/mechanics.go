package game

import (
	"encoding/json"
	"math"

	"impossibl/pkg/core"
)

const (
	Tile    = 20.0
	GroundY = 400.0

	PlayerColor = 0xff4444

	DefaultRunSpeed     = 200.0
	DefaultJumpVelocity = -400.0
	DefaultGravity      = 1800.0

	// FrameStep is the fixed physics step used for replays.
	FrameStep = 1.0 / 60.0
	// MaxFrames bounds a replay; at default speed it covers 600 tiles.
	MaxFrames = 60 * 60
)

const (
	KindSpike    = "spike"
	KindBlock    = "block"
	KindPlatform = "platform"
)

const (
	OutcomeWon     = "won"
	OutcomeLost    = "lost"
	OutcomeTimeout = "timeout"
)

// --- Level ---

type Player struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Color        int     `json:"color"`
	RunSpeed     float64 `json:"runSpeed"`
	JumpVelocity float64 `json:"jumpVelocity"`
	Gravity      float64 `json:"gravity"`
}

// Obstacle is a spike, block or platform. Spikes are drawn upward from Y,
// so a ground spike has Y == GroundY. Zero Width/Height mean one Tile.
type Obstacle struct {
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

func (o Obstacle) size() (float64, float64) {
	w, h := o.Width, o.Height
	if w == 0 {
		w = Tile
	}
	if h == 0 {
		h = Tile
	}
	return w, h
}

type Level struct {
	Player    Player     `json:"player"`
	Obstacles []Obstacle `json:"obstacles"`
	EndX      float64    `json:"endX"`
}

// Fingerprint is the blake3 hex digest of the level's JSON form.
func (l Level) Fingerprint() string {
	b, err := json.Marshal(l)
	if err != nil {
		return ""
	}
	return core.Hash(b)
}

func tiles(n float64) float64 { return n * Tile }

// DefaultLevel is the built-in daily course.
func DefaultLevel() Level {
	spike := func(x, y float64) Obstacle { return Obstacle{Kind: KindSpike, X: tiles(x), Y: y} }
	block := func(x, w float64) Obstacle {
		return Obstacle{Kind: KindBlock, X: tiles(x), Y: GroundY, Width: tiles(w), Height: Tile}
	}
	platform := func(x, up, w float64) Obstacle {
		return Obstacle{Kind: KindPlatform, X: tiles(x), Y: GroundY - tiles(up), Width: tiles(w), Height: Tile}
	}

	obstacles := []Obstacle{
		spike(8, GroundY),
		block(18, 3), block(19, 3), block(20, 3), block(26, 3),
		platform(18, 1, 1), platform(19, 1, 1), platform(20, 1, 1),
		platform(22, 2, 1), platform(23, 2, 1), platform(24, 2, 1),
	}
	for x := 26.0; x <= 32; x++ {
		obstacles = append(obstacles, platform(x, 3, 1))
	}
	obstacles = append(obstacles,
		spike(29, GroundY-tiles(3)),
		block(34, 4),
		platform(34, 3, 2),
		spike(38, GroundY),
		block(44, 4), block(48, 4), block(52, 4),
		platform(44, 1, 2), platform(48, 2, 2), platform(52, 3, 2), platform(56, 4, 2),
		spike(59, GroundY-tiles(4)),
		platform(64, 3, 2), platform(68, 2, 2), platform(72, 1, 2),
		spike(76, GroundY),
	)

	return Level{
		Player:    defaultPlayer(),
		Obstacles: obstacles,
		EndX:      tiles(82),
	}
}

func defaultPlayer() Player {
	return Player{
		X:            0,
		Y:            GroundY - Tile,
		Width:        Tile,
		Height:       Tile,
		Color:        PlayerColor,
		RunSpeed:     DefaultRunSpeed,
		JumpVelocity: DefaultJumpVelocity,
		Gravity:      DefaultGravity,
	}
}

// --- Physics ---

type Result struct {
	Outcome string  `json:"outcome"`
	Frames  int     `json:"frames"`
	X       float64 `json:"x"`
}

// Simulate runs the level at FrameStep, requesting a jump on every frame
// index listed in jumpFrames. A jump only takes effect while grounded.
func Simulate(level Level, jumpFrames []int, maxFrames int) Result {
	if maxFrames <= 0 {
		maxFrames = MaxFrames
	}
	jumps := make(map[int]bool, len(jumpFrames))
	for _, f := range jumpFrames {
		jumps[f] = true
	}

	p := level.Player
	x, y, vy := p.X, p.Y, 0.0
	onGround := false
	groundTop := GroundY - p.Height

	for frame := 0; frame < maxFrames; frame++ {
		x += p.RunSpeed * FrameStep

		if jumps[frame] && onGround {
			vy = p.JumpVelocity
			onGround = false
		}

		vy += p.Gravity * FrameStep
		y += vy * FrameStep

		px1, px2 := x, x+p.Width

		// Blocks carve pits out of the ground.
		overBlock := false
		for _, o := range level.Obstacles {
			if o.Kind != KindBlock {
				continue
			}
			w, _ := o.size()
			if px2 > o.X && px1 < o.X+w {
				overBlock = true
				break
			}
		}
		if !overBlock && y >= groundTop {
			y = groundTop
			vy = 0
			onGround = true
		}

		py1, py2 := y, y+p.Height
		for _, o := range level.Obstacles {
			w, h := o.size()
			ox1, ox2 := o.X, o.X+w
			oy1 := o.Y
			if o.Kind == KindSpike {
				oy1 = o.Y - Tile
			}
			oy2 := oy1 + h

			switch o.Kind {
			case KindSpike, KindBlock:
				if px1 < ox2 && px2 > ox1 && py1 < oy2 && py2 > oy1 {
					return Result{Outcome: OutcomeLost, Frames: frame + 1, X: x}
				}
			default:
				horizontal := px2 > ox1 && px1 < ox2
				landing := py2 > oy1 && py1 < oy1 && vy > 0
				if horizontal && landing {
					y = oy1 - p.Height
					vy = 0
					onGround = true
				}
			}
		}

		if x > level.EndX+Tile {
			return Result{Outcome: OutcomeWon, Frames: frame + 1, X: x}
		}
	}
	return Result{Outcome: OutcomeTimeout, Frames: maxFrames, X: x}
}

// --- Normalization ---

// snap rounds half up, like the browser client does.
func snap(n float64) float64 {
	return math.Floor(n/Tile+0.5) * Tile
}

func snapSize(n float64) float64 {
	if n == 0 {
		n = Tile
	}
	return math.Max(Tile, snap(n))
}

// Normalize forces a generated level onto the grid and into a shape the
// client can play: fixed player box, ground blocks, a long course and no
// spikes in the first five tiles.
func Normalize(raw Level) Level {
	out := Level{Player: defaultPlayer()}
	if raw.Player.RunSpeed != 0 {
		out.Player.RunSpeed = raw.Player.RunSpeed
	}
	if raw.Player.JumpVelocity != 0 {
		out.Player.JumpVelocity = raw.Player.JumpVelocity
	}
	if raw.Player.Gravity != 0 {
		out.Player.Gravity = raw.Player.Gravity
	}

	out.Obstacles = make([]Obstacle, 0, len(raw.Obstacles))
	for _, o := range raw.Obstacles {
		switch o.Kind {
		case KindSpike:
			if o.X < 5*Tile {
				continue
			}
			out.Obstacles = append(out.Obstacles, Obstacle{Kind: KindSpike, X: snap(o.X), Y: snap(o.Y)})
		case KindBlock:
			out.Obstacles = append(out.Obstacles, Obstacle{
				Kind: KindBlock, X: snap(o.X), Y: GroundY,
				Width: snapSize(o.Width), Height: snapSize(o.Height),
			})
		default:
			out.Obstacles = append(out.Obstacles, Obstacle{
				Kind: KindPlatform, X: snap(o.X), Y: snap(o.Y),
				Width: snapSize(o.Width), Height: snapSize(o.Height),
			})
		}
	}

	end := raw.EndX
	if end == 0 {
		end = 150 * Tile
	}
	out.EndX = math.Max(100*Tile, snap(end))
	return out
}
