package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"impossibl/pkg/chain"
)

func configDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DATABASE_PATH", "./data/impossibl.db")
	v.SetDefault("LOG_DIR", "./logs")

	v.SetDefault("CHAIN_ID", 480) // World Chain
	v.SetDefault("BUY_IN_AMOUNT", "1000000000000000000")

	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")

	v.SetDefault("FARCASTER_ID_REGISTRY", chain.IdRegistryAddress)

	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("DAILY_ROLLOVER_CRON", "*/5 * * * *")
	v.SetDefault("DAILY_TOURNAMENT_TTL", "24h")
	v.SetDefault("PUBLISH_MERKLE_ROOT", false)
	v.SetDefault("REQUIRE_REPLAY", false)

	v.SetDefault("RATE_LIMIT", 10.0)
	v.SetDefault("RATE_BURST", 20)
}

// initConfig reads the environment, optionally layered over CONFIG_FILE.
func initConfig() error {
	v := viper.New()
	configDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config file %s: %w", file, err)
		}
	}
	return loadConfig(v)
}

func loadConfig(v *viper.Viper) error {
	Config.ListenAddr = v.GetString("LISTEN_ADDR")
	Config.DatabasePath = v.GetString("DATABASE_PATH")
	Config.LogDir = v.GetString("LOG_DIR")

	Config.RPCURL = v.GetString("RPC_URL")
	Config.ChainID = v.GetInt64("CHAIN_ID")
	Config.ContractAddress = v.GetString("CONTRACT_ADDRESS")
	Config.BuyInToken = v.GetString("BUY_IN_TOKEN")
	Config.BackendPrivateKey = v.GetString("BACKEND_PRIVATE_KEY")
	amount, ok := new(big.Int).SetString(v.GetString("BUY_IN_AMOUNT"), 10)
	if !ok || amount.Sign() < 0 {
		return fmt.Errorf("BUY_IN_AMOUNT must be a base-unit integer, got %q", v.GetString("BUY_IN_AMOUNT"))
	}
	Config.BuyInAmount = amount

	Config.DaimoWebhookSecret = v.GetString("DAIMO_PAY_WEBHOOK_SECRET")

	Config.OpenAIKey = v.GetString("OPENAI_API_KEY")
	Config.OpenAIBaseURL = strings.TrimRight(v.GetString("OPENAI_BASE_URL"), "/")
	Config.OpenAIModel = v.GetString("OPENAI_MODEL")

	Config.FarcasterRPCURL = v.GetString("FARCASTER_RPC_URL")
	Config.FarcasterIdRegistry = v.GetString("FARCASTER_ID_REGISTRY")

	Config.JWTSecret = []byte(v.GetString("JWT_SECRET"))
	Config.SIWEDomain = v.GetString("SIWE_DOMAIN")
	Config.AdminAPIKey = v.GetString("ADMIN_API_KEY")

	var err error
	if Config.SessionTTL, err = time.ParseDuration(v.GetString("SESSION_TTL")); err != nil {
		return fmt.Errorf("SESSION_TTL: %w", err)
	}
	if Config.DailyTournamentTTL, err = time.ParseDuration(v.GetString("DAILY_TOURNAMENT_TTL")); err != nil {
		return fmt.Errorf("DAILY_TOURNAMENT_TTL: %w", err)
	}

	Config.AdminFIDs = make(map[int64]bool)
	for _, f := range strings.Split(v.GetString("ADMIN_FIDS"), ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		fid, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_FIDS: %q: %w", f, err)
		}
		Config.AdminFIDs[fid] = true
	}

	Config.AdminPublicKey = nil
	if pub := v.GetString("ADMIN_PUBLIC_KEY"); pub != "" {
		b, err := hex.DecodeString(pub)
		if err != nil || len(b) != ed25519.PublicKeySize {
			return fmt.Errorf("ADMIN_PUBLIC_KEY must be a hex ed25519 public key")
		}
		Config.AdminPublicKey = ed25519.PublicKey(b)
	}

	Config.DailyRolloverCron = v.GetString("DAILY_ROLLOVER_CRON")
	Config.PublishMerkleRoot = v.GetBool("PUBLISH_MERKLE_ROOT")
	Config.RequireReplay = v.GetBool("REQUIRE_REPLAY")

	Config.RateLimit = v.GetFloat64("RATE_LIMIT")
	Config.RateBurst = v.GetInt("RATE_BURST")
	return nil
}
