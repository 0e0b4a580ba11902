package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	defaultPort      = "8082"
	defaultAPIKey    = "transaction-ledger-secret-key"
	defaultLatencyMs = "20"
)

// Transaction mirrors the payload the fraud engine decodes on lookup.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	TokenID       string    `json:"token_id"`
	PayerID       string    `json:"payer_id"`
	PayeeID       string    `json:"payee_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type ledger struct {
	mu       sync.Mutex
	txs      map[string]Transaction
	reversed map[string]time.Time
	outage   bool
}

var (
	apiKey    = getEnv("API_KEY", defaultAPIKey)
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

func main() {
	port := getEnv("PORT", defaultPort)
	l := &ledger{
		txs:      make(map[string]Transaction),
		reversed: make(map[string]time.Time),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /v1/transactions", l.authed(l.handleSeed))
	mux.HandleFunc("GET /v1/transactions/{id}", l.authed(l.handleLookup))
	mux.HandleFunc("POST /v1/transactions/{id}/reverse", l.authed(l.handleReverse))
	mux.HandleFunc("GET /v1/transactions/{id}/reversal", l.authed(l.handleReversalStatus))
	// Test control: toggles a simulated outage so callers see 503s.
	mux.HandleFunc("POST /control/outage", l.handleOutage)

	log.Printf("Mock transaction ledger starting on port %s", port)
	log.Printf("API key: %s", apiKey)
	log.Printf("Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "transaction-ledger",
		"version": "1.0.0",
	})
}

func (l *ledger) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(latencyMs) * time.Millisecond)
		log.Printf("Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		switch key := r.Header.Get("X-API-Key"); {
		case key == "":
			sendError(w, "Missing X-API-Key header", http.StatusUnauthorized)
			return
		case key != apiKey:
			sendError(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		l.mu.Lock()
		down := l.outage
		l.mu.Unlock()
		if down {
			sendError(w, "Ledger unavailable (simulated outage)", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

// handleSeed registers a settled transaction so tests can reference it.
func (l *ledger) handleSeed(w http.ResponseWriter, r *http.Request) {
	var tx Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if tx.TransactionID == "" || tx.TokenID == "" {
		sendError(w, "transaction_id and token_id are required", http.StatusBadRequest)
		return
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.Currency == "" {
		tx.Currency = "EUR-CBDC"
	}

	l.mu.Lock()
	l.txs[tx.TransactionID] = tx
	l.mu.Unlock()

	writeJSON(w, http.StatusCreated, tx)
}

func (l *ledger) handleLookup(w http.ResponseWriter, r *http.Request) {
	txID := r.PathValue("id")
	l.mu.Lock()
	tx, ok := l.txs[txID]
	l.mu.Unlock()
	if !ok {
		sendError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleReverse is idempotent: a second reversal answers 409.
func (l *ledger) handleReverse(w http.ResponseWriter, r *http.Request) {
	txID := r.PathValue("id")
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.txs[txID]; !ok {
		sendError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if at, done := l.reversed[txID]; done {
		writeJSON(w, http.StatusConflict, map[string]any{
			"transaction_id": txID,
			"reversed_at":    at,
		})
		return
	}
	now := time.Now().UTC()
	l.reversed[txID] = now
	log.Printf("Reversed transaction %s", txID)
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txID,
		"reversed_at":    now,
	})
}

func (l *ledger) handleReversalStatus(w http.ResponseWriter, r *http.Request) {
	txID := r.PathValue("id")
	l.mu.Lock()
	at, done := l.reversed[txID]
	l.mu.Unlock()
	if !done {
		sendError(w, "Transaction not reversed", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txID,
		"reversed_at":    at,
	})
}

func (l *ledger) handleOutage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	l.mu.Lock()
	l.outage = body.Enabled
	l.mu.Unlock()
	log.Printf("Simulated outage enabled=%v", body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"outage": body.Enabled})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
