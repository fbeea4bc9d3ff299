package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"impossibl/pkg/types"
)

const userColsAs = `u.id, u.name, u.image, u.minikit_address, u.farcaster_fid, u.farcaster_username,
	u.role, u.banned, u.ban_reason, u.ban_expires, u.created_at, u.updated_at`

type userRow struct {
	id, name, role             string
	image, minikit, fcUsername sql.NullString
	fid, banExpires            sql.NullInt64
	banned                     bool
	banReason                  sql.NullString
	created, updated           int64
}

func (r *userRow) dest() []interface{} {
	return []interface{}{&r.id, &r.name, &r.image, &r.minikit, &r.fid, &r.fcUsername,
		&r.role, &r.banned, &r.banReason, &r.banExpires, &r.created, &r.updated}
}

func (r *userRow) user() *types.User {
	u := &types.User{
		ID:                r.id,
		Name:              r.name,
		Image:             nullString(r.image),
		MinikitAddress:    nullString(r.minikit),
		FarcasterUsername: nullString(r.fcUsername),
		Role:              r.role,
		Banned:            r.banned,
		BanReason:         nullString(r.banReason),
		CreatedAt:         msTime(r.created),
		UpdatedAt:         msTime(r.updated),
	}
	if r.fid.Valid {
		fid := r.fid.Int64
		u.FarcasterFID = &fid
	}
	if r.banExpires.Valid {
		t := msTime(r.banExpires.Int64)
		u.BanExpires = &t
	}
	if u.FarcasterFID != nil && Config.AdminFIDs[*u.FarcasterFID] {
		u.Role = "admin"
	}
	return u
}

func getUserByID(ctx context.Context, id string) (*types.User, error) {
	var r userRow
	err := db.QueryRowContext(ctx, `SELECT `+userColsAs+` FROM "user" u WHERE u.id = ?`, id).Scan(r.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.user(), nil
}

func shortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// upsertWalletUser finds the user owning address, creating the user and its
// wallet row on first sign-in. An address already known on another chain, or
// as a MiniKit address, resolves to the same user and gains a wallet row for
// chainID.
func upsertWalletUser(ctx context.Context, address string, chainID int64) (*types.User, error) {
	address = strings.ToLower(address)

	var userID string
	err := db.QueryRowContext(ctx, `SELECT user_id FROM wallet_address WHERE address = ? AND chain_id = ?`,
		address, chainID).Scan(&userID)
	if err == nil {
		return getUserByID(ctx, userID)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `SELECT id FROM (
			SELECT user_id AS id, 0 AS pref, created_at FROM wallet_address WHERE address = ?
			UNION ALL
			SELECT id, 1, created_at FROM "user" WHERE minikit_address = ?
		) ORDER BY pref, created_at LIMIT 1`, address, address).Scan(&userID)
	switch {
	case err == nil:
		if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO wallet_address (id, user_id, address, chain_id, is_primary, created_at)
			VALUES (?, ?, ?, ?, 0, ?)`, uuid.NewString(), userID, address, chainID, nowMs()); err != nil {
			return nil, fmt.Errorf("link wallet: %w", err)
		}
		InfoLog.Printf("[AUTH] linked %s on chain %d to user %s", address, chainID, userID)
		return getUserByID(ctx, userID)
	case err != sql.ErrNoRows:
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := nowMs()
	userID = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO "user" (id, name, minikit_address, role, created_at, updated_at)
		VALUES (?, ?, ?, 'user', ?, ?)`, userID, shortAddress(address), address, now, now); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_address (id, user_id, address, chain_id, is_primary, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`, uuid.NewString(), userID, address, chainID, now); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	InfoLog.Printf("[AUTH] new user %s for %s", userID, address)
	return getUserByID(ctx, userID)
}

// farcasterProfile is a verified fid and its custody address, with the
// profile fields the Farcaster client reported.
type farcasterProfile struct {
	FID         int64
	Custody     string
	ChainID     int64
	Username    string
	DisplayName string
	PfpURL      string
}

// upsertFarcasterUser finds the user holding p.FID. A new fid attaches to
// the account of its custody wallet, which is created when unknown.
func upsertFarcasterUser(ctx context.Context, p farcasterProfile) (*types.User, error) {
	var userID string
	err := db.QueryRowContext(ctx, `SELECT id FROM "user" WHERE farcaster_fid = ?`, p.FID).Scan(&userID)
	if err == sql.ErrNoRows {
		u, err := upsertWalletUser(ctx, p.Custody, p.ChainID)
		if err != nil {
			return nil, err
		}
		userID = u.ID
		InfoLog.Printf("[AUTH] fid %d bound to user %s", p.FID, userID)
	} else if err != nil {
		return nil, err
	}

	name := p.DisplayName
	if name == "" {
		name = p.Username
	}
	_, err = db.ExecContext(ctx, `UPDATE "user" SET farcaster_fid = ?,
		farcaster_username = COALESCE(NULLIF(?, ''), farcaster_username),
		name = COALESCE(NULLIF(?, ''), name),
		image = COALESCE(NULLIF(?, ''), image),
		updated_at = ?
		WHERE id = ?`, p.FID, p.Username, name, p.PfpURL, nowMs(), userID)
	if err != nil {
		return nil, fmt.Errorf("store fid %d: %w", p.FID, err)
	}
	return getUserByID(ctx, userID)
}

// getUserWallets lists a user's wallets, primary first.
func getUserWallets(ctx context.Context, userID string) ([]types.WalletAddress, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, user_id, address, chain_id, is_primary, created_at
		FROM wallet_address WHERE user_id = ? ORDER BY is_primary DESC, created_at ASC, chain_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.WalletAddress{}
	for rows.Next() {
		var w types.WalletAddress
		var created int64
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.ChainID, &w.IsPrimary, &created); err != nil {
			return nil, err
		}
		w.CreatedAt = msTime(created)
		out = append(out, w)
	}
	return out, rows.Err()
}
