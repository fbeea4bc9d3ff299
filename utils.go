package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

func setupLogging() {
	logDir := Config.LogDir
	if logDir == "" {
		logDir = "./logs"
	}
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.MkdirAll(logDir, 0755)
	}
	infoOut := io.Writer(os.Stdout)
	errOut := io.Writer(os.Stderr)
	if fInfo, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err == nil {
		infoOut = io.MultiWriter(os.Stdout, fInfo)
	}
	if fErr, err := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err == nil {
		errOut = io.MultiWriter(os.Stderr, fErr)
	}
	InfoLog = log.New(infoOut, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(errOut, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// --- Responses ---

type envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Status: "nok", Error: msg})
}

const maxBody = 1 << 20

var errEmptyBody = errors.New("empty body")

func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, dst)
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// --- Middleware ---

func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	limiter, exists := ipLimiters[ip]
	if !exists {
		limit, burst := Config.RateLimit, Config.RateBurst
		if limit <= 0 {
			limit, burst = 10, 20
		}
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
		ipLimiters[ip] = limiter
	}
	return limiter
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Admin-Timestamp, X-Admin-Signature")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func middlewareSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !getLimiter(clientIP(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit")
			return
		}

		if r.Method == "OPTIONS" || r.Method == "GET" {
			next.ServeHTTP(w, r)
			return
		}

		// Payment processors and fetch() on text bodies send odd types; only
		// reject what is clearly not JSON.
		contentType := r.Header.Get("Content-Type")
		if contentType == "" || strings.Contains(contentType, "application/json") || strings.Contains(contentType, "text/plain") {
			next.ServeHTTP(w, r)
			return
		}

		writeError(w, http.StatusUnsupportedMediaType, "bad content type: "+contentType)
	})
}
