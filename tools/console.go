package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"impossibl/pkg/chain"
	"impossibl/pkg/types"
)

var (
	ServerURL  = "http://localhost:8080"
	AdminKey   string
	SigningKey string
	DBPath     = "./data/impossibl.db"
)

const tokenDecimals = 18

// --- Models ---

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type statusResponse struct {
	Chain         bool              `json:"chain"`
	LevelGen      bool              `json:"levelGen"`
	FeedClients   int               `json:"feedClients"`
	RequireReplay bool              `json:"requireReplay"`
	Daily         *types.Tournament `json:"daily"`
}

type leaderboardResponse struct {
	TournamentID string                   `json:"tournamentId"`
	Winners      []types.LeaderboardEntry `json:"winners"`
	Players      []types.LeaderboardEntry `json:"players"`
}

type claimRootResponse struct {
	TournamentID  string     `json:"tournamentId"`
	Root          string     `json:"root"`
	MerkleValues  [][]string `json:"merkleValues"`
	WinnersCount  int        `json:"winnersCount"`
	PublishTxHash string     `json:"publishTxHash"`
	NextDailyID   string     `json:"nextDailyId"`
}

type proofResponse struct {
	Proof []string `json:"proof"`
	Value []string `json:"value"`
}

type groupResponse struct {
	TxHash       string `json:"txHash"`
	TournamentID string `json:"tournamentId"`
}

// --- HTTP ---

func sign(req *http.Request) error {
	if SigningKey == "" {
		return nil
	}
	seed, err := hex.DecodeString(SigningKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(seed)
	default:
		return errors.New("signing key must be a hex ed25519 seed or private key")
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := []byte(req.Method + " " + req.URL.Path + "\n" + ts)
	req.Header.Set("X-Admin-Timestamp", ts)
	req.Header.Set("X-Admin-Signature", hex.EncodeToString(ed25519.Sign(priv, msg)))
	return nil
}

// call performs a request and decodes the data field of the envelope.
func call(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(ServerURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+AdminKey)
	}
	if err := sign(req); err != nil {
		return err
	}

	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("protocol error (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Status != "ok" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// --- Formatting ---

func tokens(baseUnits string) string {
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return baseUnits
	}
	return chain.FormatUnits(n, tokenDecimals)
}

func printTournament(t *types.Tournament) {
	state := "open"
	if t.MerkleRoot != nil {
		state = "finalized"
	} else if time.Now().After(t.EndDate) {
		state = "ended"
	}
	fmt.Printf("%s (%s)\n", t.Name, t.ID)
	fmt.Printf("  state:  %s\n", state)
	fmt.Printf("  ends:   %s\n", humanize.Time(t.EndDate))
	fmt.Printf("  pool:   %s tokens\n", humanize.Comma(t.PrizePool))
}

// --- Commands ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s statusResponse
			if err := call(http.MethodGet, "/api/status", nil, &s); err != nil {
				return err
			}
			fmt.Printf("Target Server: %s\n", ServerURL)
			fmt.Printf("Chain: %v | Level generator: %v | Replays required: %v | Live viewers: %d\n",
				s.Chain, s.LevelGen, s.RequireReplay, s.FeedClients)
			if s.Daily != nil {
				printTournament(s.Daily)
			} else {
				fmt.Println("No active daily tournament.")
			}
			return nil
		},
	}
}

func dailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show the active daily tournament",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var t types.Tournament
			if err := call(http.MethodGet, "/api/tournament/daily", nil, &t); err != nil {
				return err
			}
			printTournament(&t)
			return nil
		},
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard <tournamentId>",
		Short: "Rank a tournament's players",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lb leaderboardResponse
			if err := call(http.MethodGet, "/api/tournament/"+args[0]+"/leaderboard", nil, &lb); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tPLAYER\tWON ON\tATTEMPTS\tPRIZE")
			for _, e := range lb.Winners {
				fmt.Fprintf(tw, "%d\t%s\t%s try\t%s\t%s\n", e.Rank, e.Name,
					humanize.Ordinal(e.WonAtAttempt), humanize.Comma(int64(e.Attempts)), tokens(e.Prize))
			}
			for _, e := range lb.Players {
				fmt.Fprintf(tw, "-\t%s\t-\t%s\t-\n", e.Name, humanize.Comma(int64(e.Attempts)))
			}
			tw.Flush()
			fmt.Printf("%d winners, %d still trying\n", len(lb.Winners), len(lb.Players))
			return nil
		},
	}
}

func finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize [tournamentId]",
		Short: "Generate the claim root (defaults to the active daily)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{}
			if len(args) == 1 {
				payload["tournamentId"] = args[0]
			}
			var res claimRootResponse
			if err := call(http.MethodPost, "/api/generate-claim-root", payload, &res); err != nil {
				return err
			}
			fmt.Printf("Tournament %s finalized\n", res.TournamentID)
			fmt.Printf("  root:    %s\n", res.Root)
			fmt.Printf("  winners: %d\n", res.WinnersCount)
			for _, v := range res.MerkleValues {
				fmt.Printf("    %s  %s\n", v[0], tokens(v[1]))
			}
			if res.PublishTxHash != "" {
				fmt.Printf("  published in %s\n", res.PublishTxHash)
			}
			if res.NextDailyID != "" {
				fmt.Printf("  next daily: %s\n", res.NextDailyID)
			}
			return nil
		},
	}
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{Use: "group", Short: "Group tournaments"}
	group.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a group tournament on chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res groupResponse
			if err := call(http.MethodPost, "/api/create-group-tournament", map[string]string{}, &res); err != nil {
				return err
			}
			fmt.Printf("Group tournament %s created in %s\n", res.TournamentID, res.TxHash)
			return nil
		},
	})
	return group
}

func proofCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proof <tournamentId> <address>",
		Short: "Fetch a winner's claim proof",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res proofResponse
			payload := map[string]string{"tournamentId": args[0], "address": args[1]}
			if err := call(http.MethodPost, "/api/generate-claim-proof", payload, &res); err != nil {
				return err
			}
			fmt.Printf("%s may claim %s tokens\n", res.Value[0], tokens(res.Value[1]))
			for i, p := range res.Proof {
				fmt.Printf("  [%d] %s\n", i, p)
			}
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create an ed25519 key pair for signed admin requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Printf("ADMIN_PUBLIC_KEY=%s\n", hex.EncodeToString(pub))
			fmt.Printf("ADMIN_SIGNING_KEY=%s\n", hex.EncodeToString(priv.Seed()))
			return nil
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	root := &cobra.Command{
		Use:           "console",
		Short:         "Impossibl operator console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ServerURL, "server", envOr("IMPOSSIBL_SERVER", ServerURL), "server base URL")
	root.PersistentFlags().StringVar(&AdminKey, "admin-key", os.Getenv("ADMIN_API_KEY"), "admin API key")
	root.PersistentFlags().StringVar(&SigningKey, "signing-key", os.Getenv("ADMIN_SIGNING_KEY"), "hex ed25519 key for signed admin requests")
	root.PersistentFlags().StringVar(&DBPath, "db", envOr("DATABASE_PATH", DBPath), "SQLite database for user commands")

	root.AddCommand(statusCmd(), dailyCmd(), leaderboardCmd(), finalizeCmd(), groupCmd(), proofCmd(), keygenCmd(), usersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
