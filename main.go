package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"impossibl/pkg/chain"
)

// initServices connects the optional chain and model backends.
func initServices(ctx context.Context) {
	if Config.RPCURL != "" {
		client, err := chain.Dial(ctx, chain.Config{
			RPCURL:          Config.RPCURL,
			ContractAddress: Config.ContractAddress,
			PrivateKeyHex:   Config.BackendPrivateKey,
			ChainID:         Config.ChainID,
		})
		if err != nil {
			ErrorLog.Printf("[CHAIN] %v; running without contract access", err)
		} else {
			chainClient = client
			InfoLog.Printf("[CHAIN] contract %s, sender %s", client.Address().Hex(), client.Sender().Hex())
		}
	} else {
		InfoLog.Println("[CHAIN] RPC_URL not set; contract routes disabled")
	}

	if Config.FarcasterRPCURL != "" {
		reg, err := chain.DialIdRegistry(ctx, Config.FarcasterRPCURL, Config.FarcasterIdRegistry)
		if err != nil {
			ErrorLog.Printf("[AUTH] farcaster registry: %v; SIWF disabled", err)
		} else {
			fidResolver = reg
		}
	} else {
		InfoLog.Println("[AUTH] FARCASTER_RPC_URL not set; SIWF disabled")
	}

	if Config.OpenAIKey != "" {
		levelGen = newOpenAIClient(Config.OpenAIBaseURL, Config.OpenAIKey, Config.OpenAIModel)
	}

	if len(Config.JWTSecret) == 0 {
		secret := make([]byte, 32)
		rand.Read(secret)
		Config.JWTSecret = secret
		InfoLog.Println("[AUTH] JWT_SECRET not set; sessions end on restart")
	}
}

func routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("GET /api/auth/nonce", handleNonce)
	mux.HandleFunc("POST /api/auth/siwe", handleSIWE)
	mux.HandleFunc("POST /api/auth/siwf", handleSIWF)
	mux.HandleFunc("POST /api/auth/signout", requireSession(handleSignOut))
	mux.HandleFunc("GET /api/auth/session", requireSession(handleSession))

	// Tournaments
	mux.HandleFunc("GET /api/tournament/daily", handleDailyTournament)
	mux.HandleFunc("GET /api/tournament/{tournamentId}", requireSession(handleTournament))
	mux.HandleFunc("GET /api/tournament/{tournamentId}/my", requireSession(handleMyPrize))
	mux.HandleFunc("POST /api/tournament/{tournamentId}/attempts", requireSession(handleSaveAttempt))
	mux.HandleFunc("POST /api/tournament/{tournamentId}/deposit", requireSession(handleSaveDeposit))
	mux.HandleFunc("GET /api/tournament/{tournamentId}/onchain", handleOnchainTournament)
	mux.HandleFunc("GET /api/tournament/{tournamentId}/joined", handleJoined)
	mux.HandleFunc("GET /api/tournament/{tournamentId}/join-calldata", handleJoinCalldata)
	mux.HandleFunc("GET /api/tournament/{tournamentId}/leaderboard", handleLeaderboard)
	mux.HandleFunc("GET /api/tournament/{tournamentId}/snapshot", handleSnapshot)
	mux.HandleFunc("POST /api/create-group-tournament", requireMember(handleCreateGroupTournament))

	// Claims
	mux.HandleFunc("POST /api/generate-claim-root", requireAdmin(handleGenerateClaimRoot))
	mux.HandleFunc("POST /api/generate-claim-proof", handleGenerateClaimProof)

	// Payments
	mux.HandleFunc("GET /api/webhook/daimo", handleWebhookHealth)
	mux.HandleFunc("POST /api/webhook/daimo", handleDaimoWebhook)

	// Levels
	mux.HandleFunc("GET /api/level/default", handleDefaultLevel)
	mux.HandleFunc("POST /api/generate-level", requireSession(handleGenerateLevel))

	// Live feed
	mux.HandleFunc("GET /ws/tournament/{tournamentId}", handleFeed)

	// Public Status Check
	mux.HandleFunc("GET /api/status", handleStatus)
	return mux
}

func main() {
	if err := initConfig(); err != nil {
		setupLogging()
		ErrorLog.Fatal(err)
	}
	setupLogging()
	if err := initDB(); err != nil {
		ErrorLog.Fatal(err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	InfoLog.Println("IMPOSSIBL BOOT SEQUENCE")
	initServices(ctx)

	// Start Background Services
	runRollover()
	sched, err := startScheduler()
	if err != nil {
		ErrorLog.Fatalf("[CRON] %v", err)
	}

	// Wrap Middleware
	handler := middlewareSecurity(routes())
	handler = middlewareCORS(handler)

	// Secure Server Config
	server := &http.Server{
		Addr:         Config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // level generation waits on the model
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		InfoLog.Printf("Listening on %s", Config.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ErrorLog.Fatal(err)
		}
	}()

	<-ctx.Done()
	InfoLog.Println("Shutting down")
	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		ErrorLog.Printf("shutdown: %v", err)
	}
	if c, ok := chainClient.(*chain.Client); ok {
		c.Close()
	}
}
