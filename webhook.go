package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	paymentStarted   = "payment_started"
	paymentCompleted = "payment_completed"
	paymentBounced   = "payment_bounced"

	depositDaily = "daily_deposit"
)

func handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok"})
}

func webhookAuthorized(r *http.Request) bool {
	if Config.DaimoWebhookSecret == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	want := "Basic " + Config.DaimoWebhookSecret
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// depositAmount reads the whole-token amount from payment metadata. Fractions
// are floored; the pool column counts whole tokens.
func depositAmount(raw string) (int64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64/2 {
		return 0, false
	}
	if f != math.Floor(f) {
		InfoLog.Printf("[WEBHOOK] flooring fractional deposit %s", raw)
	}
	return int64(math.Floor(f)), true
}

func handleDaimoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || strings.TrimSpace(string(body)) == "" {
		writeError(w, http.StatusBadRequest, "Empty body")
		return
	}
	var ev DaimoEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" || !webhookAuthorized(r) {
		InfoLog.Printf("[WEBHOOK] rejected from %s: key=%v", clientIP(r), key != "")
		writeError(w, http.StatusUnauthorized, "Invalid request")
		return
	}

	switch ev.Type {
	case paymentStarted, paymentCompleted, paymentBounced:
	default:
		writeError(w, http.StatusBadRequest, "Invalid event type")
		return
	}

	userID := ev.Payment.Metadata["userId"]
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "No userId found in metadata")
		return
	}

	// The key and its effect commit together, so a failed delivery can be
	// retried.
	tx, err := db.BeginTx(r.Context(), nil)
	if err != nil {
		ErrorLog.Printf("[WEBHOOK] begin %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer tx.Rollback()

	fresh, err := recordWebhookEvent(r.Context(), tx, key, ev.Type, body)
	if err != nil {
		ErrorLog.Printf("[WEBHOOK] record %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !fresh {
		InfoLog.Printf("[WEBHOOK] duplicate delivery %s", key)
		writeOK(w, map[string]bool{"duplicate": true})
		return
	}

	switch ev.Type {
	case paymentCompleted:
		meta := ev.Payment.Metadata
		var callData string
		if ev.Payment.Destination != nil {
			callData = ev.Payment.Destination.CallData
		}
		InfoLog.Printf("[WEBHOOK] payment_completed user=%s type=%s tx=%s calldata=%d bytes",
			userID, meta["type"], ev.TxHash, len(callData)/2)

		if meta["type"] == depositDaily {
			if err := applyDailyDeposit(r.Context(), tx, meta["tournamentId"], meta["amount"]); err != nil {
				ErrorLog.Printf("[WEBHOOK] prize pool %s: %v", meta["tournamentId"], err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
		}
	case paymentBounced:
		ErrorLog.Printf("[WEBHOOK] payment_bounced user=%s payment=%s", userID, ev.Payment.ID)
	case paymentStarted:
		InfoLog.Printf("[WEBHOOK] payment_started user=%s payment=%s", userID, ev.Payment.ID)
	}

	if err := tx.Commit(); err != nil {
		ErrorLog.Printf("[WEBHOOK] commit %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeOK(w, nil)
}

// applyDailyDeposit grows the pool inside tx. Bad metadata and unknown
// tournaments are logged and accepted; only database errors are returned.
func applyDailyDeposit(ctx context.Context, tx *sql.Tx, tournamentID, rawAmount string) error {
	if tournamentID == "" {
		ErrorLog.Printf("[WEBHOOK] daily_deposit without tournament id")
		return nil
	}
	amount, ok := depositAmount(rawAmount)
	if !ok {
		ErrorLog.Printf("[WEBHOOK] daily_deposit for %s with bad amount %q", tournamentID, rawAmount)
		return nil
	}
	found, err := updateTournamentPrizePool(ctx, tx, tournamentID, amount)
	if err != nil {
		return err
	}
	if !found {
		ErrorLog.Printf("[WEBHOOK] tournament %s not found", tournamentID)
		return nil
	}
	InfoLog.Printf("[WEBHOOK] tournament %s pool +%d", tournamentID, amount)
	return nil
}
