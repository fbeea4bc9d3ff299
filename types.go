package main

import (
	"encoding/json"
	"fmt"
	"time"

	"impossibl/pkg/chain"
	"impossibl/pkg/game"
	"impossibl/pkg/types"
)

// --- Auth ---

type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SIWERequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// SIWFRequest is a Sign In With Farcaster result. The profile fields come
// from the Farcaster client; only the fid is verified.
type SIWFRequest struct {
	Message     string `json:"message"`
	Signature   string `json:"signature"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
}

type SessionResponse struct {
	Token     string                `json:"token,omitempty"`
	ExpiresAt time.Time             `json:"expiresAt"`
	User      *types.User           `json:"user"`
	Wallets   []types.WalletAddress `json:"wallets"`
}

// --- Tournament API ---

type Replay struct {
	JumpFrames []int `json:"jumpFrames"`
}

type AttemptRequest struct {
	TournamentID string  `json:"tournamentId"`
	HasWon       *bool   `json:"hasWon"`
	Replay       *Replay `json:"replay,omitempty"`
}

type AttemptResponse struct {
	Attempts int `json:"attempts"`
}

type DepositRequest struct {
	TournamentID string `json:"tournamentId"`
	TxHash       string `json:"txHash"`
	Amount       string `json:"amount"`
}

type DepositResponse struct {
	UserPrize *types.UserPrize `json:"userPrize"`
}

type JoinedResponse struct {
	Joined bool `json:"joined"`
}

type CalldataResponse struct {
	To       string `json:"to"`
	Calldata string `json:"calldata"`
}

type LeaderboardResponse struct {
	TournamentID string                   `json:"tournamentId"`
	Winners      []types.LeaderboardEntry `json:"winners"`
	Players      []types.LeaderboardEntry `json:"players"`
}

type SnapshotResponse struct {
	TournamentID string           `json:"tournamentId"`
	PrevHash     string           `json:"prevHash"`
	FinalHash    string           `json:"finalHash"`
	CreatedAt    time.Time        `json:"createdAt"`
	State        *TournamentState `json:"state"`
}

type GroupTournamentRequest struct {
	Level *game.Level `json:"level,omitempty"`
}

type GroupTournamentResponse struct {
	TxHash       string `json:"txHash"`
	TournamentID string `json:"tournamentId"`
}

type OnchainResponse struct {
	Tournament chain.TournamentView `json:"tournament"`
}

// --- Claims ---

type ClaimRootRequest struct {
	TournamentID string `json:"tournamentId"`
}

type ClaimRootResponse struct {
	TournamentID  string     `json:"tournamentId"`
	Root          string     `json:"root"`
	MerkleValues  [][]string `json:"merkleValues"`
	WinnersCount  int        `json:"winnersCount"`
	PublishTxHash string     `json:"publishTxHash,omitempty"`
	NextDailyID   string     `json:"nextDailyId,omitempty"`
}

type ClaimProofRequest struct {
	Address      string `json:"address"`
	TournamentID string `json:"tournamentId"`
}

type ClaimProofResponse struct {
	Proof []string `json:"proof"`
	Value []string `json:"value"`
}

// TournamentState is the archived content of a finalized tournament.
type TournamentState struct {
	Tournament  *types.Tournament `json:"tournament"`
	Prizes      []types.UserPrize `json:"prizes"`
	LevelHash   string            `json:"levelHash"`
	FinalizedAt time.Time         `json:"finalizedAt"`
}

// --- Levels ---

type LevelRequest struct {
	Prompt     string `json:"prompt"`
	Difficulty string `json:"difficulty"`
}

type LevelResponse struct {
	Level game.Level `json:"level"`
}

// --- Webhook ---

type DaimoEvent struct {
	Type      string       `json:"type"`
	PaymentID string       `json:"paymentId"`
	ChainID   int64        `json:"chainId"`
	TxHash    string       `json:"txHash"`
	Payment   DaimoPayment `json:"payment"`
}

type DaimoPayment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Destination *DaimoDestination `json:"destination,omitempty"`
	Metadata    DaimoMetadata     `json:"metadata"`
}

type DaimoDestination struct {
	ChainID            json.Number `json:"chainId"`
	DestinationAddress string      `json:"destinationAddress"`
	TokenAddress       string      `json:"tokenAddress"`
	AmountUnits        string      `json:"amountUnits"`
	CallData           string      `json:"callData"`
}

// DaimoMetadata holds free-form string metadata; numbers are kept in their
// decimal form.
type DaimoMetadata map[string]string

func (m *DaimoMetadata) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(DaimoMetadata, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*m = out
	return nil
}

// --- Feed ---

type FeedEvent struct {
	Type         string `json:"type"`
	TournamentID string `json:"tournamentId"`
	UserID       string `json:"userId"`
	Attempts     int    `json:"attempts"`
	WonAtAttempt int    `json:"wonAtAttempt"`
}
