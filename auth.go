package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spruceid/siwe-go"

	"impossibl/pkg/core"
	"impossibl/pkg/types"
)

type ctxKey int

const (
	ctxUser ctxKey = iota
	ctxSession
)

var errNoSession = errors.New("unauthorized")

// AdminSignatureWindow bounds the clock skew of signed admin requests.
const AdminSignatureWindow = 5 * time.Minute

// --- Tokens ---

type sessionClaims struct {
	jwt.RegisteredClaims
}

func issueToken(userID, sessionID string, expires time.Time) (string, error) {
	claims := sessionClaims{jwt.RegisteredClaims{
		Subject:   userID,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(Config.JWTSecret)
}

func parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return Config.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func tokenDigest(token string) string {
	return core.Hash([]byte(token))
}

// createSession stores a session row and returns its bearer token.
func createSession(ctx context.Context, userID string, r *http.Request) (string, time.Time, error) {
	sessionID := uuid.NewString()
	expires := time.Now().Add(Config.SessionTTL)
	token, err := issueToken(userID, sessionID, expires)
	if err != nil {
		return "", time.Time{}, err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO session (id, user_id, token_hash, expires_at, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, userID, tokenDigest(token), expires.UnixMilli(), clientIP(r), r.UserAgent(), nowMs())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expires, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// resolveSession checks the token, its session row and the user's ban.
func resolveSession(r *http.Request) (*types.User, *types.Session, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil, errNoSession
	}
	claims, err := parseToken(token)
	if err != nil {
		return nil, nil, errNoSession
	}

	var s types.Session
	var expires, created int64
	var ip, ua sql.NullString
	err = db.QueryRowContext(r.Context(), `SELECT id, user_id, token_hash, expires_at, ip_address, user_agent, created_at
		FROM session WHERE id = ?`, claims.ID).Scan(&s.ID, &s.UserID, &s.TokenHash, &expires, &ip, &ua, &created)
	if err == sql.ErrNoRows {
		return nil, nil, errNoSession
	}
	if err != nil {
		return nil, nil, err
	}
	s.ExpiresAt, s.CreatedAt = msTime(expires), msTime(created)
	s.IPAddress, s.UserAgent = ip.String, ua.String

	if s.UserID != claims.Subject || s.TokenHash != tokenDigest(token) || time.Now().After(s.ExpiresAt) {
		return nil, nil, errNoSession
	}

	user, err := getUserByID(r.Context(), s.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, errNoSession
	}
	if user.IsBanned(time.Now()) {
		return nil, nil, fmt.Errorf("user banned")
	}
	return user, &s, nil
}

func sessionUser(r *http.Request) *types.User {
	u, _ := r.Context().Value(ctxUser).(*types.User)
	return u
}

func requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, sess, err := resolveSession(r)
		if err != nil {
			if err != errNoSession {
				InfoLog.Printf("[AUTH] rejected session from %s: %v", clientIP(r), err)
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		ctx = context.WithValue(ctx, ctxSession, sess)
		next(w, r.WithContext(ctx))
	}
}

// --- Admin ---

func adminKeyValid(r *http.Request) bool {
	if Config.AdminAPIKey == "" {
		return false
	}
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return false
	}
	got := strings.TrimPrefix(h, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(Config.AdminAPIKey)) == 1
}

// adminSigningPayload is what operator tooling signs with its ed25519 key.
func adminSigningPayload(method, path, timestamp string) []byte {
	return []byte(method + " " + path + "\n" + timestamp)
}

func adminSignatureValid(r *http.Request) bool {
	if Config.AdminPublicKey == nil {
		return false
	}
	ts := r.Header.Get("X-Admin-Timestamp")
	sig, err := hex.DecodeString(r.Header.Get("X-Admin-Signature"))
	if ts == "" || err != nil {
		return false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if skew := time.Since(time.Unix(sec, 0)); skew > AdminSignatureWindow || skew < -AdminSignatureWindow {
		return false
	}
	return core.VerifySignature(Config.AdminPublicKey, adminSigningPayload(r.Method, r.URL.Path, ts), sig)
}

// requireAdmin accepts the admin API key, a signed operator request, or a
// session whose user has the admin role.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminKeyValid(r) || adminSignatureValid(r) {
			next(w, r)
			return
		}
		user, _, err := resolveSession(r)
		if err != nil || user.Role != "admin" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxUser, user)))
	}
}

// requireMember lets operator tooling through and otherwise needs a session.
func requireMember(next http.HandlerFunc) http.HandlerFunc {
	withSession := requireSession(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if adminKeyValid(r) || adminSignatureValid(r) {
			next(w, r)
			return
		}
		withSession(w, r)
	}
}

// --- Handlers ---

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := newNonce()
	if err != nil {
		ErrorLog.Printf("[AUTH] nonce: %v", err)
		writeError(w, http.StatusInternalServerError, "nonce unavailable")
		return
	}
	expires := time.Now().Add(NonceTTL)
	_, err = db.ExecContext(r.Context(), `INSERT INTO verification (id, identifier, value, expires_at, created_at)
		VALUES (?, 'siwe', ?, ?, ?)`, uuid.NewString(), nonce, expires.UnixMilli(), nowMs())
	if err != nil {
		ErrorLog.Printf("[AUTH] store nonce: %v", err)
		writeError(w, http.StatusInternalServerError, "nonce unavailable")
		return
	}
	writeOK(w, NonceResponse{Nonce: nonce, ExpiresAt: expires})
}

// consumeNonce deletes the nonce and reports whether it was valid.
func consumeNonce(ctx context.Context, nonce string) (bool, error) {
	var expires int64
	err := db.QueryRowContext(ctx, `DELETE FROM verification WHERE identifier = 'siwe' AND value = ?
		RETURNING expires_at`, nonce).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Now().UnixMilli() < expires, nil
}

// verifySignIn parses an EIP-4361 message, checks its domain and window,
// spends its nonce and verifies the signature. It writes the error response
// and returns nil on failure.
func verifySignIn(w http.ResponseWriter, r *http.Request, message, signature string) *siwe.Message {
	msg, err := core.ParseSIWE(message)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	if Config.SIWEDomain != "" && msg.GetDomain() != Config.SIWEDomain {
		writeError(w, http.StatusUnauthorized, "domain mismatch")
		return nil
	}
	if err := core.CheckSIWETime(msg, time.Now()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return nil
	}

	ok, err := consumeNonce(r.Context(), msg.GetNonce())
	if err != nil {
		ErrorLog.Printf("[AUTH] nonce lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return nil
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired nonce")
		return nil
	}

	if err := core.VerifySIWE(msg, signature); err != nil {
		InfoLog.Printf("[AUTH] bad signature for %s: %v", msg.GetAddress().Hex(), err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return nil
	}
	return msg
}

// startSession refuses banned users, then issues the session cookie and
// token.
func startSession(w http.ResponseWriter, r *http.Request, user *types.User) {
	if user.IsBanned(time.Now()) {
		writeError(w, http.StatusUnauthorized, "user banned")
		return
	}
	wallets, err := getUserWallets(r.Context(), user.ID)
	if err != nil {
		ErrorLog.Printf("[AUTH] wallets for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	token, expires, err := createSession(r.Context(), user.ID, r)
	if err != nil {
		ErrorLog.Printf("[AUTH] session for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeOK(w, SessionResponse{Token: token, ExpiresAt: expires, User: user, Wallets: wallets})
}

func handleSIWE(w http.ResponseWriter, r *http.Request) {
	var req SIWERequest
	if err := decodeBody(r, &req); err != nil || req.Message == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "message and signature are required")
		return
	}
	msg := verifySignIn(w, r, req.Message, req.Signature)
	if msg == nil {
		return
	}

	address := msg.GetAddress().Hex()
	user, err := upsertWalletUser(r.Context(), address, int64(msg.GetChainID()))
	if err != nil {
		ErrorLog.Printf("[AUTH] upsert %s: %v", address, err)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	startSession(w, r, user)
}

// handleSIWF signs in with a Farcaster custody signature. The fid named in
// the message must be the one the IdRegistry assigns to the signer.
func handleSIWF(w http.ResponseWriter, r *http.Request) {
	if fidResolver == nil {
		writeError(w, http.StatusServiceUnavailable, "farcaster sign-in not configured")
		return
	}
	var req SIWFRequest
	if err := decodeBody(r, &req); err != nil || req.Message == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "message and signature are required")
		return
	}
	msg := verifySignIn(w, r, req.Message, req.Signature)
	if msg == nil {
		return
	}

	fid, err := core.FarcasterFID(msg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	custody := msg.GetAddress()
	owned, err := fidResolver.IdOf(r.Context(), custody)
	if err != nil {
		ErrorLog.Printf("[AUTH] idOf %s: %v", custody.Hex(), err)
		writeError(w, http.StatusBadGateway, "farcaster registry unavailable")
		return
	}
	if owned != fid {
		InfoLog.Printf("[AUTH] %s claimed fid %d but holds %d", custody.Hex(), fid, owned)
		writeError(w, http.StatusUnauthorized, "fid not held by signer")
		return
	}

	user, err := upsertFarcasterUser(r.Context(), farcasterProfile{
		FID:         fid,
		Custody:     custody.Hex(),
		ChainID:     int64(msg.GetChainID()),
		Username:    strings.TrimSpace(req.Username),
		DisplayName: strings.TrimSpace(req.DisplayName),
		PfpURL:      strings.TrimSpace(req.PfpURL),
	})
	if err != nil {
		ErrorLog.Printf("[AUTH] upsert fid %d: %v", fid, err)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	startSession(w, r, user)
}

func handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess, _ := r.Context().Value(ctxSession).(*types.Session)
	if sess != nil {
		if _, err := db.ExecContext(r.Context(), `DELETE FROM session WHERE id = ?`, sess.ID); err != nil {
			ErrorLog.Printf("[AUTH] sign out %s: %v", sess.ID, err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeOK(w, nil)
}

func handleSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := r.Context().Value(ctxSession).(*types.Session)
	user := sessionUser(r)
	wallets, err := getUserWallets(r.Context(), user.ID)
	if err != nil {
		ErrorLog.Printf("[AUTH] wallets for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := SessionResponse{User: user, Wallets: wallets}
	if sess != nil {
		resp.ExpiresAt = sess.ExpiresAt
	}
	writeOK(w, resp)
}
