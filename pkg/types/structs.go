package types

import "time"

// --- Tournaments ---

const (
	TournamentDaily = 0
	TournamentGroup = 1
)

type Tournament struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         int        `json:"type"`   // 0 daily, 1 group
	Winner       *string    `json:"winner"` // group only
	StartDate    time.Time  `json:"startDate"`
	EndDate      time.Time  `json:"endDate"`
	MerkleRoot   *string    `json:"merkleRoot"`
	MerkleValues [][]string `json:"merkleValues"`
	PrizePool    int64      `json:"prizePool"` // whole tokens, display only
	CreatedAt    time.Time  `json:"createdAt"`
}

func (t *Tournament) HasMerkleRoot() bool {
	return t.MerkleRoot != nil && *t.MerkleRoot != ""
}

type UserPrize struct {
	UserID        string    `json:"userId"`
	TournamentID  string    `json:"tournamentId"`
	Prize         string    `json:"prize"`
	Attempts      int       `json:"attempts"`
	WonAtAttempt  int       `json:"wonAtAttempt"`
	DepositTxHash *string   `json:"depositTxHash"`
	DepositAmount string    `json:"depositAmount"`
	ClaimedTxHash *string   `json:"claimedTxHash"`
	ClaimedAmount string    `json:"claimedAmount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	User          *User     `json:"user,omitempty"`
}

// --- Accounts ---

type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Image             *string    `json:"image"`
	MinikitAddress    *string    `json:"minikitAddress"`
	FarcasterFID      *int64     `json:"farcasterFid"`
	FarcasterUsername *string    `json:"farcasterUsername"`
	Role              string     `json:"role"`
	Banned            bool       `json:"banned"`
	BanReason         *string    `json:"banReason,omitempty"`
	BanExpires        *time.Time `json:"banExpires,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsBanned reports whether a ban is in force at now.
func (u *User) IsBanned(now time.Time) bool {
	if !u.Banned {
		return false
	}
	return u.BanExpires == nil || now.Before(*u.BanExpires)
}

type WalletAddress struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Address   string    `json:"address"`
	ChainID   int64     `json:"chainId"`
	IsPrimary bool      `json:"isPrimary"`
	CreatedAt time.Time `json:"createdAt"`
}

type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// --- Leaderboard ---

type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Attempts     int    `json:"attempts"`
	WonAtAttempt int    `json:"wonAtAttempt"`
	Prize        string `json:"prize"`
}
