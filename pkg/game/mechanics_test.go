package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func flatLevel(endX float64, obstacles ...Obstacle) Level {
	return Level{Player: defaultPlayer(), Obstacles: obstacles, EndX: endX}
}

func TestSimulateFlatRunWins(t *testing.T) {
	res := Simulate(flatLevel(10*Tile), nil, 0)
	require.Equal(t, OutcomeWon, res.Outcome)
	require.Greater(t, res.X, 11*Tile)
}

func TestSimulateSpikeKillsWithoutJump(t *testing.T) {
	lvl := flatLevel(20*Tile, Obstacle{Kind: KindSpike, X: 8 * Tile, Y: GroundY})
	res := Simulate(lvl, nil, 0)
	require.Equal(t, OutcomeLost, res.Outcome)
	require.Less(t, res.X, 8*Tile)
}

func TestSimulateJumpClearsSpike(t *testing.T) {
	lvl := flatLevel(20*Tile, Obstacle{Kind: KindSpike, X: 8 * Tile, Y: GroundY})
	require.Equal(t, OutcomeWon, Simulate(lvl, []int{34}, 0).Outcome)
	// Too early: the player is back on the ground before the spike.
	require.Equal(t, OutcomeLost, Simulate(lvl, []int{20}, 0).Outcome)
}

func TestSimulateJumpNeedsGround(t *testing.T) {
	lvl := flatLevel(20*Tile, Obstacle{Kind: KindSpike, X: 8 * Tile, Y: GroundY})
	// Frame 0 starts airborne, so the first request is ignored.
	require.Equal(t, OutcomeLost, Simulate(lvl, []int{0}, 0).Outcome)
}

func TestSimulateBlockIsAPit(t *testing.T) {
	lvl := flatLevel(30*Tile, Obstacle{Kind: KindBlock, X: 10 * Tile, Y: GroundY, Width: 2 * Tile, Height: Tile})
	require.Equal(t, OutcomeLost, Simulate(lvl, nil, 0).Outcome)
}

func TestSimulateTimeout(t *testing.T) {
	res := Simulate(flatLevel(1000*Tile), nil, 10)
	require.Equal(t, OutcomeTimeout, res.Outcome)
	require.Equal(t, 10, res.Frames)
}

func TestDefaultLevelReplay(t *testing.T) {
	lvl := DefaultLevel()
	require.Equal(t, 82*Tile, lvl.EndX)
	require.Len(t, lvl.Obstacles, 34)

	require.Equal(t, OutcomeLost, Simulate(lvl, nil, 0).Outcome)

	run := []int{38, 100, 132, 164, 219, 252, 277, 310, 446}
	res := Simulate(lvl, run, 0)
	require.Equal(t, OutcomeWon, res.Outcome)
	require.Greater(t, res.X, lvl.EndX+Tile)
}

func TestNormalize(t *testing.T) {
	raw := Level{
		Player: Player{X: 50, Y: 10, Width: 5, Color: 0x00ff00, RunSpeed: 250},
		Obstacles: []Obstacle{
			{Kind: KindSpike, X: 40, Y: GroundY},
			{Kind: KindSpike, X: 123, Y: 395},
			{Kind: KindBlock, X: 207, Y: 300, Height: 33},
			{Kind: "ledge", X: 310, Y: 290, Width: 50},
			{Kind: KindPlatform, X: -10, Y: 380, Width: 7, Height: 7},
		},
	}
	lvl := Normalize(raw)

	require.Equal(t, Player{
		X: 0, Y: GroundY - Tile, Width: Tile, Height: Tile, Color: PlayerColor,
		RunSpeed: 250, JumpVelocity: DefaultJumpVelocity, Gravity: DefaultGravity,
	}, lvl.Player)

	require.Equal(t, []Obstacle{
		{Kind: KindSpike, X: 120, Y: 400},
		{Kind: KindBlock, X: 200, Y: GroundY, Width: Tile, Height: 40},
		{Kind: KindPlatform, X: 320, Y: 300, Width: 60, Height: Tile},
		{Kind: KindPlatform, X: 0, Y: 380, Width: Tile, Height: Tile},
	}, lvl.Obstacles)

	require.Equal(t, 150*Tile, lvl.EndX)
}

func TestNormalizeEndX(t *testing.T) {
	require.Equal(t, 100*Tile, Normalize(Level{EndX: 1000}).EndX)
	require.Equal(t, 2520.0, Normalize(Level{EndX: 2510}).EndX)
	require.NotNil(t, Normalize(Level{}).Obstacles)
}

func TestFingerprintStable(t *testing.T) {
	a, b := DefaultLevel(), DefaultLevel()
	require.Len(t, a.Fingerprint(), 64)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.EndX += Tile
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
