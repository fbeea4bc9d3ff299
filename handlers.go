package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"impossibl/pkg/chain"
	"impossibl/pkg/game"
	"impossibl/pkg/types"
)

var errChainDisabled = errors.New("chain client not configured")

// --- Helpers ---

// lookupTournament resolves the path id and writes 404/500 itself.
func lookupTournament(w http.ResponseWriter, r *http.Request) (*types.Tournament, bool) {
	id := r.PathValue("tournamentId")
	t, err := getTournamentByID(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[tournament] lookup %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tournament not found")
		return nil, false
	}
	return t, true
}

// onchainID parses a tournament id as the contract's uint256.
func onchainID(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("tournament id %q is not numeric", id)
	}
	return n, nil
}

// bodyTournamentID checks that an id repeated in the body agrees with the path.
func bodyTournamentID(r *http.Request, fromBody string) (string, error) {
	id := r.PathValue("tournamentId")
	if fromBody != "" && fromBody != id {
		return "", errors.New("tournamentId does not match the path")
	}
	return id, nil
}

// --- Reads ---

func handleDailyTournament(w http.ResponseWriter, r *http.Request) {
	t, err := getActiveDailyTournament(r.Context())
	if err != nil {
		ErrorLog.Printf("[daily] %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "No active daily tournament")
		return
	}
	writeOK(w, t)
}

func handleTournament(w http.ResponseWriter, r *http.Request) {
	t, ok := lookupTournament(w, r)
	if !ok {
		return
	}
	prizes, err := getUserPrizes(r.Context(), t.ID)
	if err != nil {
		ErrorLog.Printf("[tournament] prizes %s: %v", t.ID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeOK(w, prizes)
}

func handleMyPrize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tournamentId")
	prize, err := getUserPrize(r.Context(), id, sessionUser(r).ID)
	if err != nil {
		ErrorLog.Printf("[my] %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeOK(w, prize)
}

// --- Attempts & deposits ---

func handleSaveAttempt(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HasWon == nil {
		writeError(w, http.StatusBadRequest, "hasWon is required")
		return
	}
	if _, err := bodyTournamentID(r, req.TournamentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := lookupTournament(w, r)
	if !ok {
		return
	}
	hasWon := *req.HasWon

	if req.Replay == nil && Config.RequireReplay {
		writeError(w, http.StatusBadRequest, "replay is required")
		return
	}
	if req.Replay != nil {
		level, err := getTournamentLevel(r.Context(), t.ID)
		if err != nil {
			ErrorLog.Printf("[attempts] level %s: %v", t.ID, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		res := game.Simulate(level, req.Replay.JumpFrames, game.MaxFrames)
		if (res.Outcome == game.OutcomeWon) != hasWon {
			InfoLog.Printf("[attempts] replay mismatch on %s: claimed won=%v, replay %s at frame %d",
				t.ID, hasWon, res.Outcome, res.Frames)
			writeError(w, http.StatusBadRequest, "replay does not match the reported result")
			return
		}
	}

	user := sessionUser(r)
	attempts, wonAt, err := recordAttempt(r.Context(), t, user.ID, hasWon)
	if err != nil {
		ErrorLog.Printf("[attempts] %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	feed.publish(FeedEvent{
		Type:         "attempt",
		TournamentID: t.ID,
		UserID:       user.ID,
		Attempts:     attempts,
		WonAtAttempt: wonAt,
	})
	writeOK(w, AttemptResponse{Attempts: attempts})
}

// recordAttempt counts one attempt. The first winner of a group tournament
// takes the tournament and gets the pending claim mark; t may be stale, the
// winner column decides.
func recordAttempt(ctx context.Context, t *types.Tournament, userID string, hasWon bool) (attempts, wonAt int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var claimed *string
	if t.Type == types.TournamentGroup && hasWon && t.Winner == nil {
		first, err := setTournamentWinner(ctx, tx, t.ID, userID)
		if err != nil {
			return 0, 0, fmt.Errorf("winner %s: %w", t.ID, err)
		}
		if first {
			InfoLog.Printf("[attempts] %s won group tournament %s", userID, t.ID)
			// Group prizes are paid out of band; "0x" marks the claim as pending.
			zero := "0x"
			claimed = &zero
		}
	}

	attempts, wonAt, err = saveUserAttempt(ctx, tx, userID, t.ID, hasWon, claimed)
	if err != nil {
		return 0, 0, err
	}
	return attempts, wonAt, tx.Commit()
}

func handleSaveDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := bodyTournamentID(r, req.TournamentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TxHash == "" || req.Amount == "" {
		writeError(w, http.StatusBadRequest, "txHash and amount are required")
		return
	}
	if _, ok := new(big.Int).SetString(req.Amount, 10); !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal integer")
		return
	}

	t, ok := lookupTournament(w, r)
	if !ok {
		return
	}

	if chainClient != nil {
		if _, err := hexutil.Decode(req.TxHash); err != nil || len(req.TxHash) != 66 {
			writeError(w, http.StatusBadRequest, "txHash is not a transaction hash")
			return
		}
		success, err := chainClient.TransactionSucceeded(r.Context(), common.HexToHash(req.TxHash))
		switch {
		case errors.Is(err, chain.ErrTxNotFound):
			// Not mined yet; the payment webhook settles it later.
			InfoLog.Printf("[deposit] %s not yet mined", req.TxHash)
		case err != nil:
			ErrorLog.Printf("[deposit] receipt %s: %v", req.TxHash, err)
		case !success:
			writeError(w, http.StatusBadRequest, "deposit transaction failed")
			return
		}
	}

	prize, err := saveUserDeposit(r.Context(), sessionUser(r).ID, t.ID, req.TxHash, req.Amount)
	if err != nil {
		ErrorLog.Printf("[deposit] %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeOK(w, DepositResponse{UserPrize: prize})
}

// --- Contract views ---

func requireChain(w http.ResponseWriter) bool {
	if chainClient == nil {
		writeError(w, http.StatusServiceUnavailable, errChainDisabled.Error())
		return false
	}
	return true
}

func handleOnchainTournament(w http.ResponseWriter, r *http.Request) {
	if !requireChain(w) {
		return
	}
	id, err := onchainID(r.PathValue("tournamentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := chainClient.GetTournament(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[onchain] %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read tournament from contract")
		return
	}
	writeOK(w, OnchainResponse{Tournament: t.View()})
}

func handleJoined(w http.ResponseWriter, r *http.Request) {
	if !requireChain(w) {
		return
	}
	id, err := onchainID(r.PathValue("tournamentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr := r.URL.Query().Get("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	joined, err := chainClient.HasJoined(r.Context(), id, common.HexToAddress(addr))
	if err != nil {
		ErrorLog.Printf("[joined] %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read tournament from contract")
		return
	}
	writeOK(w, JoinedResponse{Joined: joined})
}

func handleJoinCalldata(w http.ResponseWriter, r *http.Request) {
	id, err := onchainID(r.PathValue("tournamentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := chain.EncodeJoinTournament(id, r.URL.Query().Get("player"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, CalldataResponse{To: Config.ContractAddress, Calldata: hexutil.Encode(data)})
}

// --- Group tournaments ---

func handleCreateGroupTournament(w http.ResponseWriter, r *http.Request) {
	var req GroupTournamentRequest
	if err := decodeBody(r, &req); err != nil && err != errEmptyBody {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !requireChain(w) {
		return
	}

	txHash, id, err := chainClient.CreateGroupTournament(r.Context(), common.HexToAddress(Config.BuyInToken), Config.BuyInAmount)
	if err != nil {
		ErrorLog.Printf("[group] create: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create group tournament")
		return
	}

	var level *game.Level
	if req.Level != nil {
		lvl := game.Normalize(*req.Level)
		level = &lvl
	}
	now := time.Now().UTC()
	t := &types.Tournament{
		ID:        id.String(),
		Name:      "Group #" + id.String(),
		Type:      types.TournamentGroup,
		StartDate: now,
		EndDate:   now.Add(TournamentWindow),
		PrizePool: 1,
		CreatedAt: now,
	}
	if err := createTournament(r.Context(), t, level); err != nil {
		ErrorLog.Printf("[group] store %s (tx %s): %v", t.ID, txHash.Hex(), err)
		writeError(w, http.StatusInternalServerError, "Failed to create group tournament")
		return
	}
	InfoLog.Printf("[group] tournament %s created in %s", t.ID, txHash.Hex())
	writeOK(w, GroupTournamentResponse{TxHash: txHash.Hex(), TournamentID: t.ID})
}

// --- Status ---

func handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"chain":         chainClient != nil,
		"levelGen":      levelGen != nil,
		"feedClients":   feed.clientCount(),
		"requireReplay": Config.RequireReplay,
	}
	if t, err := getActiveDailyTournament(r.Context()); err == nil && t != nil {
		status["daily"] = t
	}
	writeOK(w, status)
}
