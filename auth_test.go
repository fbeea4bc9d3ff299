package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedAdminHeaders(priv ed25519.PrivateKey, method, path string, at time.Time) []string {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := ed25519.Sign(priv, adminSigningPayload(method, path, ts))
	return []string{"X-Admin-Timestamp", ts, "X-Admin-Signature", hex.EncodeToString(sig)}
}

func TestAdminSignedRequests(t *testing.T) {
	setupTestEnv(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	Config.AdminPublicKey = pub
	Config.AdminAPIKey = ""
	mux := routes()
	const path = "/api/generate-claim-root"

	// Authorized requests reach the handler, which finds no daily.
	rr := executeRequest(mux, "POST", path, nil, signedAdminHeaders(priv, "POST", path, time.Now())...)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = executeRequest(mux, "POST", path, nil, signedAdminHeaders(priv, "POST", path, time.Now().Add(-time.Hour))...)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "stale timestamp")

	rr = executeRequest(mux, "POST", path, nil, signedAdminHeaders(priv, "POST", "/api/other", time.Now())...)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "signature for another path")

	_, other, _ := ed25519.GenerateKey(rand.Reader)
	rr = executeRequest(mux, "POST", path, nil, signedAdminHeaders(other, "POST", path, time.Now())...)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "unknown key")

	rr = executeRequest(mux, "POST", path, nil, "Authorization", "Bearer admin-key")
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "API key disabled")
}

func TestRegularUserIsNotAdmin(t *testing.T) {
	setupTestEnv(t)
	token := loginAs(t, createTestUser(t, testAddress(1)))

	rr := executeRequest(routes(), "POST", "/api/generate-claim-root", nil, bearer(token)...)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
