package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"impossibl/pkg/core"
)

var errSnapshotExists = errors.New("snapshot already archived")

// archiveSnapshot compresses the final state of a tournament and links it to
// the previous snapshot's hash. Each tournament is archived once.
func archiveSnapshot(ctx context.Context, tx *sql.Tx, state *TournamentState) (string, error) {
	rawJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	compressed, err := core.Compress(rawJSON)
	if err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	var prevHash string
	err = tx.QueryRowContext(ctx, `SELECT final_hash FROM tournament_snapshot ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&prevHash)
	if err == sql.ErrNoRows {
		prevHash = SnapshotGenesis
	} else if err != nil {
		return "", err
	}

	finalHash := core.HashChain(compressed, prevHash)
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tournament_snapshot (tournament_id, state_blob, prev_hash, final_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`, state.Tournament.ID, compressed, prevHash, finalHash, nowMs())
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", errSnapshotExists
	}

	InfoLog.Printf("[SNAPSHOT] %s: %d bytes, hash %s", state.Tournament.ID, len(compressed), finalHash)
	return finalHash, nil
}

// getSnapshot loads and decompresses an archived tournament, or returns nil.
func getSnapshot(ctx context.Context, tournamentID string) (*SnapshotResponse, error) {
	var blob []byte
	var created int64
	resp := &SnapshotResponse{TournamentID: tournamentID}
	err := db.QueryRowContext(ctx, `SELECT state_blob, prev_hash, final_hash, created_at
		FROM tournament_snapshot WHERE tournament_id = ?`, tournamentID).Scan(&blob, &resp.PrevHash, &resp.FinalHash, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.CreatedAt = msTime(created)

	if core.HashChain(blob, resp.PrevHash) != resp.FinalHash {
		return nil, fmt.Errorf("snapshot %s: hash mismatch", tournamentID)
	}
	raw, err := core.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", tournamentID, err)
	}
	resp.State = &TournamentState{}
	if err := json.Unmarshal(raw, resp.State); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", tournamentID, err)
	}
	return resp, nil
}

func handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tournamentId")
	snap, err := getSnapshot(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[SNAPSHOT] %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "Snapshot not found")
		return
	}
	writeOK(w, snap)
}
