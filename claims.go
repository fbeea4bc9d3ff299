package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"impossibl/pkg/game"
	"impossibl/pkg/merkle"
	"impossibl/pkg/prize"
	"impossibl/pkg/types"
)

// statusError carries the HTTP status a finalization failure maps to.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

func failWith(code int, msg string) error { return &statusError{code: code, msg: msg} }

func errorStatus(err error) (int, string) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, se.msg
	}
	if errors.Is(err, errAlreadyFinalized) {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Failed to generate Merkle tree"
}

// poolBaseUnits turns the display pool (whole tokens) into base units.
func poolBaseUnits(whole int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)
	return unit.Mul(unit, big.NewInt(whole))
}

// finalizeTournament computes prizes for a tournament, commits its claim
// root, archives it and, for a daily, opens the next one.
func finalizeTournament(ctx context.Context, tournamentID string) (*ClaimRootResponse, error) {
	finalizeLock.Lock()
	defer finalizeLock.Unlock()

	var (
		t       *types.Tournament
		winners []types.UserPrize
		pool    *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	if chainClient != nil {
		g.Go(func() error {
			id, err := onchainID(tournamentID)
			if err != nil {
				return failWith(http.StatusBadRequest, err.Error())
			}
			ct, err := chainClient.GetTournament(gctx, id)
			if err != nil {
				ErrorLog.Printf("[claims] getTournament %s: %v", tournamentID, err)
				return failWith(http.StatusInternalServerError, "Failed to read tournament from contract")
			}
			pool = ct.PrizePool
			return nil
		})
	}
	g.Go(func() error {
		var err error
		if t, err = getTournamentByID(gctx, tournamentID); err != nil {
			return err
		}
		winners, err = getWinners(gctx, tournamentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if t == nil {
		return nil, failWith(http.StatusNotFound, "Tournament not found in database")
	}
	if t.HasMerkleRoot() {
		return nil, errAlreadyFinalized
	}
	if len(winners) == 0 {
		return nil, failWith(http.StatusBadRequest, "No winners found for this tournament")
	}
	if pool == nil {
		pool = poolBaseUnits(t.PrizePool)
	}

	ids := make([]string, len(winners))
	for i, w := range winners {
		ids[i] = w.UserID
	}
	addresses, err := getPayoutAddresses(ctx, ids)
	if err != nil {
		return nil, err
	}
	payable := winners[:0:0]
	for _, w := range winners {
		if _, ok := addresses[w.UserID]; !ok {
			InfoLog.Printf("[claims] no wallet address for user %s, skipping", w.UserID)
			continue
		}
		payable = append(payable, w)
	}

	wonAt := make([]int, len(payable))
	for i, w := range payable {
		wonAt[i] = w.WonAtAttempt
	}
	shares, err := prize.Distribute(wonAt, pool)
	if err != nil {
		return nil, failWith(http.StatusBadRequest, err.Error())
	}

	var values []merkle.Value
	prizes := make(map[string]string, len(payable))
	for i, w := range payable {
		prizes[w.UserID] = shares[i].String()
		payable[i].Prize = shares[i].String()
		if shares[i].Sign() == 0 {
			continue
		}
		v, err := merkle.NewValue(addresses[w.UserID], shares[i].String())
		if err != nil {
			return nil, fmt.Errorf("merkle value for %s: %w", w.UserID, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, failWith(http.StatusBadRequest, "No valid winners with wallet addresses found")
	}

	tree, err := merkle.Of(values)
	if err != nil {
		return nil, err
	}
	root := tree.Root()
	merkleValues := make([][]string, 0, tree.Len())
	for _, v := range tree.Entries() {
		merkleValues = append(merkleValues, v.Strings())
	}

	level, err := getTournamentLevel(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := setTournamentMerkle(ctx, tx, tournamentID, root, merkleValues); err != nil {
		return nil, err
	}
	if err := setUserPrizes(ctx, tx, tournamentID, prizes); err != nil {
		return nil, err
	}
	final := *t
	final.MerkleRoot = &root
	final.MerkleValues = merkleValues
	state := &TournamentState{
		Tournament:  &final,
		Prizes:      payable,
		LevelHash:   level.Fingerprint(),
		FinalizedAt: time.Now().UTC(),
	}
	if _, err := archiveSnapshot(ctx, tx, state); err != nil {
		return nil, fmt.Errorf("archive %s: %w", tournamentID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	InfoLog.Printf("[claims] tournament %s root %s for %d winners", tournamentID, root, len(values))

	resp := &ClaimRootResponse{
		TournamentID: tournamentID,
		Root:         root,
		MerkleValues: merkleValues,
		WinnersCount: len(merkleValues),
	}

	if Config.PublishMerkleRoot && chainClient != nil {
		if id, err := onchainID(tournamentID); err == nil {
			hash, err := chainClient.SetMerkleRoot(ctx, id, common.HexToHash(root))
			if err != nil {
				ErrorLog.Printf("[claims] setMerkleRoot %s: %v", tournamentID, err)
			} else {
				resp.PublishTxHash = hash.Hex()
			}
		}
	}

	if t.Type == types.TournamentDaily {
		next, err := rollDailyTournament(ctx)
		if err != nil {
			ErrorLog.Printf("[claims] next daily after %s: %v", tournamentID, err)
		} else {
			resp.NextDailyID = next.ID
		}
	}
	return resp, nil
}

// rollDailyTournament opens a new daily on chain and stores it. Without a
// chain client the tournament is local only and gets a random id.
func rollDailyTournament(ctx context.Context) (*types.Tournament, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	if chainClient != nil {
		txHash, onchain, err := chainClient.CreateGlobalTournament(ctx, common.HexToAddress(Config.BuyInToken), Config.BuyInAmount)
		if err != nil {
			return nil, err
		}
		InfoLog.Printf("[daily] tournament %s created in %s", onchain, txHash.Hex())
		id = onchain.String()
	}

	t := &types.Tournament{
		ID:        id,
		Name:      "Daily #" + now.Format("2006-01-02"),
		Type:      types.TournamentDaily,
		StartDate: now,
		EndDate:   now.Add(Config.DailyTournamentTTL),
		PrizePool: 1,
		CreatedAt: now,
	}
	level := game.DefaultLevel()
	if err := createTournament(ctx, t, &level); err != nil {
		return nil, err
	}
	return t, nil
}

// --- Handlers ---

func handleGenerateClaimRoot(w http.ResponseWriter, r *http.Request) {
	var req ClaimRootRequest
	if err := decodeBody(r, &req); err != nil && err != errEmptyBody {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := req.TournamentID
	if id == "" {
		t, err := getActiveDailyTournament(r.Context())
		if err != nil {
			ErrorLog.Printf("[claims] active daily: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if t == nil {
			writeError(w, http.StatusNotFound, "No active daily tournament")
			return
		}
		id = t.ID
	}

	resp, err := finalizeTournament(r.Context(), id)
	if err != nil {
		code, msg := errorStatus(err)
		if code >= 500 {
			ErrorLog.Printf("[claims] finalize %s: %v", id, err)
		}
		writeError(w, code, msg)
		return
	}
	writeOK(w, resp)
}

func handleGenerateClaimProof(w http.ResponseWriter, r *http.Request) {
	var req ClaimProofRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" || req.TournamentID == "" {
		writeError(w, http.StatusBadRequest, "address and tournamentId are required")
		return
	}

	t, err := getTournamentByID(r.Context(), req.TournamentID)
	if err != nil {
		ErrorLog.Printf("[proof] %s: %v", req.TournamentID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate proof")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tournament not found")
		return
	}
	if len(t.MerkleValues) == 0 {
		writeError(w, http.StatusBadRequest, "Merkle tree not generated for this tournament")
		return
	}

	values, err := merkle.ValuesFromStrings(t.MerkleValues)
	if err != nil {
		ErrorLog.Printf("[proof] %s values: %v", t.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate proof")
		return
	}
	tree, err := merkle.Of(values)
	if err != nil {
		ErrorLog.Printf("[proof] %s tree: %v", t.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate proof")
		return
	}

	i, v, err := tree.Find(req.Address)
	if err != nil {
		writeError(w, http.StatusNotFound, "No proof found for the given address in this tournament")
		return
	}
	proof, err := tree.Proof(i)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate proof")
		return
	}
	writeOK(w, ClaimProofResponse{Proof: proof, Value: v.Strings()})
}
