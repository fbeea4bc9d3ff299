package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"impossibl/pkg/chain"
)

// --- Constants ---
const (
	TournamentWindow = 30 * 24 * time.Hour // group tournaments
	NonceTTL         = 10 * time.Minute
	SessionCookie    = "session_token"
	SnapshotGenesis  = "GENESIS"
	TokenDecimals    = 18
)

// TournamentChain is the slice of the contract client the handlers use.
type TournamentChain interface {
	GetTournament(ctx context.Context, id *big.Int) (*chain.Tournament, error)
	HasJoined(ctx context.Context, id *big.Int, player common.Address) (bool, error)
	TransactionSucceeded(ctx context.Context, hash common.Hash) (bool, error)
	CreateGlobalTournament(ctx context.Context, token common.Address, buyIn *big.Int) (common.Hash, *big.Int, error)
	CreateGroupTournament(ctx context.Context, token common.Address, buyIn *big.Int) (common.Hash, *big.Int, error)
	SetMerkleRoot(ctx context.Context, id *big.Int, root common.Hash) (common.Hash, error)
}

// FIDResolver maps a custody address to the Farcaster id it holds.
type FIDResolver interface {
	IdOf(ctx context.Context, custody common.Address) (int64, error)
}

var (
	// Infrastructure
	db       *sql.DB
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	// Config is filled by initConfig.
	Config struct {
		ListenAddr   string
		DatabasePath string
		LogDir       string

		RPCURL            string
		ChainID           int64
		ContractAddress   string
		BuyInToken        string
		BuyInAmount       *big.Int
		BackendPrivateKey string

		DaimoWebhookSecret string

		OpenAIKey     string
		OpenAIBaseURL string
		OpenAIModel   string

		FarcasterRPCURL     string
		FarcasterIdRegistry string

		JWTSecret      []byte
		SessionTTL     time.Duration
		SIWEDomain     string
		AdminAPIKey    string
		AdminFIDs      map[int64]bool
		AdminPublicKey ed25519.PublicKey

		DailyRolloverCron  string
		DailyTournamentTTL time.Duration
		PublishMerkleRoot  bool
		RequireReplay      bool

		RateLimit float64
		RateBurst int
	}

	// External services; nil when not configured.
	chainClient TournamentChain
	levelGen    LevelGenerator
	fidResolver FIDResolver

	feed = newFeedHub()

	// One finalization at a time, from the API or the scheduler.
	finalizeLock sync.Mutex

	// Rate Limiting
	ipLimiters = make(map[string]*rate.Limiter)
	ipLock     sync.Mutex
)
