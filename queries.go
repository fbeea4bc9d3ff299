package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"impossibl/pkg/game"
	"impossibl/pkg/types"
)

var (
	errAlreadyFinalized = errors.New("merkle root already generated for this tournament")
)

func nowMs() int64 { return time.Now().UnixMilli() }

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...interface{}) error
}

// dbtx runs statements on the pool or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// --- Tournaments ---

const tournamentCols = `id, name, type, winner, start_date, end_date, merkle_root, merkle_values, prize_pool, created_at`

func scanTournament(row scanner) (*types.Tournament, error) {
	var t types.Tournament
	var winner, root, values sql.NullString
	var start, end, created int64
	err := row.Scan(&t.ID, &t.Name, &t.Type, &winner, &start, &end, &root, &values, &t.PrizePool, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Winner = nullString(winner)
	t.MerkleRoot = nullString(root)
	t.StartDate, t.EndDate, t.CreatedAt = msTime(start), msTime(end), msTime(created)
	if values.Valid && values.String != "" {
		if err := json.Unmarshal([]byte(values.String), &t.MerkleValues); err != nil {
			return nil, fmt.Errorf("tournament %s merkle_values: %w", t.ID, err)
		}
	}
	return &t, nil
}

// getActiveDailyTournament returns the newest unfinalized daily tournament
// that has not ended, or nil.
func getActiveDailyTournament(ctx context.Context) (*types.Tournament, error) {
	row := db.QueryRowContext(ctx, `SELECT `+tournamentCols+` FROM tournament
		WHERE type = ? AND end_date >= ? AND merkle_root IS NULL
		ORDER BY start_date DESC LIMIT 1`, types.TournamentDaily, nowMs())
	return scanTournament(row)
}

// getDueDailyTournaments lists ended daily tournaments still waiting for a
// claim root.
func getDueDailyTournaments(ctx context.Context) ([]*types.Tournament, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+tournamentCols+` FROM tournament
		WHERE type = ? AND end_date < ? AND merkle_root IS NULL
		ORDER BY end_date ASC`, types.TournamentDaily, nowMs())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getTournamentByID(ctx context.Context, id string) (*types.Tournament, error) {
	row := db.QueryRowContext(ctx, `SELECT `+tournamentCols+` FROM tournament WHERE id = ?`, id)
	return scanTournament(row)
}

func createTournament(ctx context.Context, t *types.Tournament, level *game.Level) error {
	var levelJSON interface{}
	if level != nil {
		b, err := json.Marshal(level)
		if err != nil {
			return err
		}
		levelJSON = string(b)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `INSERT INTO tournament (id, name, type, start_date, end_date, prize_pool, level_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Type, t.StartDate.UnixMilli(), t.EndDate.UnixMilli(), t.PrizePool, levelJSON, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create tournament %s: %w", t.ID, err)
	}
	return nil
}

// updateTournamentPrizePool adds delta to the pool. It reports false when
// the tournament does not exist.
func updateTournamentPrizePool(ctx context.Context, tx *sql.Tx, id string, delta int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tournament SET prize_pool = prize_pool + ? WHERE id = ?`, delta, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func setTournamentMerkle(ctx context.Context, tx *sql.Tx, id, root string, values [][]string) error {
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tournament SET merkle_root = ?, merkle_values = ?
		WHERE id = ? AND merkle_root IS NULL`, root, string(b), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errAlreadyFinalized
	}
	return nil
}

// setTournamentWinner records the first winner only.
func setTournamentWinner(ctx context.Context, q dbtx, id, userID string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE tournament SET winner = ? WHERE id = ? AND winner IS NULL`, userID, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// getTournamentLevel returns the stored course, or the default one.
func getTournamentLevel(ctx context.Context, id string) (game.Level, error) {
	var raw sql.NullString
	err := db.QueryRowContext(ctx, `SELECT level_json FROM tournament WHERE id = ?`, id).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return game.Level{}, err
	}
	if !raw.Valid || raw.String == "" {
		return game.DefaultLevel(), nil
	}
	var lvl game.Level
	if err := json.Unmarshal([]byte(raw.String), &lvl); err != nil {
		return game.Level{}, fmt.Errorf("tournament %s level: %w", id, err)
	}
	return lvl, nil
}

// --- User prizes ---

const userPrizeCols = `up.user_id, up.tournament_id, up.prize, up.attempts, up.won_at_attempt,
	up.deposit_tx_hash, up.deposit_amount, up.claimed_tx_hash, up.claimed_amount, up.created_at, up.updated_at`

const userPrizeWithUserCols = userPrizeCols + `, ` + userColsAs

func scanUserPrize(row scanner, withUser bool) (*types.UserPrize, error) {
	var p types.UserPrize
	var deposit, claimed sql.NullString
	var created, updated int64
	dest := []interface{}{&p.UserID, &p.TournamentID, &p.Prize, &p.Attempts, &p.WonAtAttempt,
		&deposit, &p.DepositAmount, &claimed, &p.ClaimedAmount, &created, &updated}

	var u userRow
	if withUser {
		dest = append(dest, u.dest()...)
	}
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.DepositTxHash = nullString(deposit)
	p.ClaimedTxHash = nullString(claimed)
	p.CreatedAt, p.UpdatedAt = msTime(created), msTime(updated)
	if withUser {
		p.User = u.user()
	}
	return &p, nil
}

func queryUserPrizes(ctx context.Context, query string, args ...interface{}) ([]types.UserPrize, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.UserPrize{}
	for rows.Next() {
		p, err := scanUserPrize(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// saveUserAttempt counts one attempt. wonAtAttempt keeps the attempt number
// of the first win; claimedTxHash, when given, is stored.
func saveUserAttempt(ctx context.Context, q dbtx, userID, tournamentID string, hasWon bool, claimedTxHash *string) (attempts, wonAt int, err error) {
	won := 0
	if hasWon {
		won = 1
	}
	now := nowMs()
	err = q.QueryRowContext(ctx, `INSERT INTO user_prize
		(user_id, tournament_id, prize, attempts, won_at_attempt, claimed_tx_hash, created_at, updated_at)
		VALUES (?, ?, '0', 1, ?, ?, ?, ?)
		ON CONFLICT(user_id, tournament_id) DO UPDATE SET
			attempts = user_prize.attempts + 1,
			won_at_attempt = CASE
				WHEN excluded.won_at_attempt = 0 THEN user_prize.won_at_attempt
				WHEN user_prize.won_at_attempt > 0 THEN MIN(user_prize.won_at_attempt, user_prize.attempts + 1)
				ELSE user_prize.attempts + 1
			END,
			claimed_tx_hash = COALESCE(excluded.claimed_tx_hash, user_prize.claimed_tx_hash),
			updated_at = excluded.updated_at
		RETURNING attempts, won_at_attempt`,
		userID, tournamentID, won, claimedTxHash, now, now).Scan(&attempts, &wonAt)
	if err != nil {
		return 0, 0, fmt.Errorf("save attempt %s/%s: %w", tournamentID, userID, err)
	}
	return attempts, wonAt, nil
}

// saveUserDeposit records the first deposit for the pair. A later deposit
// never overwrites it.
func saveUserDeposit(ctx context.Context, userID, tournamentID, txHash, amount string) (*types.UserPrize, error) {
	now := nowMs()
	_, err := db.ExecContext(ctx, `INSERT INTO user_prize
		(user_id, tournament_id, prize, deposit_tx_hash, deposit_amount, created_at, updated_at)
		VALUES (?, ?, '0', ?, ?, ?, ?)
		ON CONFLICT(user_id, tournament_id) DO UPDATE SET
			deposit_tx_hash = excluded.deposit_tx_hash,
			deposit_amount = excluded.deposit_amount,
			updated_at = excluded.updated_at
		WHERE user_prize.deposit_tx_hash IS NULL`,
		userID, tournamentID, txHash, amount, now, now)
	if err != nil {
		return nil, fmt.Errorf("save deposit %s/%s: %w", tournamentID, userID, err)
	}
	return getUserPrize(ctx, tournamentID, userID)
}

func getUserPrize(ctx context.Context, tournamentID, userID string) (*types.UserPrize, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userPrizeWithUserCols+`
		FROM user_prize up JOIN "user" u ON u.id = up.user_id
		WHERE up.tournament_id = ? AND up.user_id = ?`, tournamentID, userID)
	return scanUserPrize(row, true)
}

func getUserPrizes(ctx context.Context, tournamentID string) ([]types.UserPrize, error) {
	return queryUserPrizes(ctx, `SELECT `+userPrizeWithUserCols+`
		FROM user_prize up JOIN "user" u ON u.id = up.user_id
		WHERE up.tournament_id = ?
		ORDER BY up.attempts ASC, up.updated_at ASC`, tournamentID)
}

// getWinners returns rows with a recorded win in rankPrizes order: first
// winning attempt, then total attempts, then who got there first.
func getWinners(ctx context.Context, tournamentID string) ([]types.UserPrize, error) {
	return queryUserPrizes(ctx, `SELECT `+userPrizeWithUserCols+`
		FROM user_prize up JOIN "user" u ON u.id = up.user_id
		WHERE up.tournament_id = ? AND up.won_at_attempt != 0
		ORDER BY up.won_at_attempt ASC, up.attempts ASC, up.updated_at ASC, up.user_id ASC`, tournamentID)
}

func setUserPrizes(ctx context.Context, tx *sql.Tx, tournamentID string, prizes map[string]string) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE user_prize SET prize = ?, updated_at = ? WHERE tournament_id = ? AND user_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := nowMs()
	for userID, amount := range prizes {
		if _, err := stmt.ExecContext(ctx, amount, now, tournamentID, userID); err != nil {
			return fmt.Errorf("prize for %s: %w", userID, err)
		}
	}
	return nil
}

// getPayoutAddresses maps user ids to the address prizes are paid to: the
// MiniKit wallet, else the primary linked wallet, else the oldest one.
func getPayoutAddresses(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, `SELECT u.id, COALESCE(NULLIF(u.minikit_address, ''),
			(SELECT w.address FROM wallet_address w WHERE w.user_id = u.id
			 ORDER BY w.is_primary DESC, w.created_at ASC LIMIT 1))
		FROM "user" u WHERE u.id IN (?`+strings.Repeat(",?", len(userIDs)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var addr sql.NullString
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, err
		}
		if addr.Valid && addr.String != "" {
			out[id] = strings.ToLower(addr.String)
		}
	}
	return out, rows.Err()
}

// --- Webhooks ---

// recordWebhookEvent stores an idempotency key. It reports false when the
// key was already seen.
func recordWebhookEvent(ctx context.Context, tx *sql.Tx, key, eventType string, payload []byte) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO webhook_event (idempotency_key, type, payload, received_at)
		VALUES (?, ?, ?, ?)`, key, eventType, string(payload), nowMs())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
