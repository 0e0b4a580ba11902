package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jwttoken "fraudengine/internal/jwt_token"
	"fraudengine/internal/platform/config"
	id "fraudengine/pkg/domain"
)

// knownCallers match the grants in testdata/policy.yaml, which the server
// under test loads through FRAUD_POLICY_FILE.
var knownCallers = map[string]string{
	"arb1":     "7c1f0f5e-2d0b-4d53-9a51-3c1f8a0e6b11",
	"arb2":     "0e4b9d2a-6f3c-4e8b-8a1d-52c7e9f0b344",
	"sup1":     "b5d3a7c1-9e2f-4a60-8c4d-1f7e3b9a2d58",
	"operator": "4a9e2c71-58d3-4f0b-9b6e-d2c8a1f37e05",
}

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	LedgerURL        string
	LedgerAPIKey     string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	signer  *jwttoken.JWTService
	caller  string
	aliases map[string]string
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	auth := config.Default().Auth
	signingKey := getEnv("FRAUD_JWT_SIGNING_KEY", auth.JWTSigningKey)

	return &TestContext{
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		LedgerURL:    getEnv("LEDGER_URL", "http://localhost:8082"),
		LedgerAPIKey: getEnv("FRAUD_LEDGER_API_KEY", "transaction-ledger-secret-key"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer:  jwttoken.NewJWTService(signingKey, auth.Issuer, auth.Audience, auth.TokenTTL),
		aliases: make(map[string]string),
	}
}

// Remember binds a scenario alias such as "alice" or "tx1" to an ID.
func (tc *TestContext) Remember(alias, value string) {
	tc.aliases[alias] = value
}

// Lookup resolves an alias. Unknown aliases are an error so typos in feature
// files fail loudly.
func (tc *TestContext) Lookup(alias string) (string, error) {
	v, ok := tc.aliases[alias]
	if !ok {
		return "", fmt.Errorf("alias %q has not been defined in this scenario", alias)
	}
	return v, nil
}

// UserID returns the ID bound to alias, creating a fresh one on first use.
// Known callers keep fixed IDs; E2E_ARBITRATOR_<ALIAS> overrides them.
func (tc *TestContext) UserID(alias string) string {
	if v, ok := tc.aliases[alias]; ok {
		return v
	}
	v := os.Getenv("E2E_ARBITRATOR_" + strings.ToUpper(alias))
	if v == "" {
		v = knownCallers[alias]
	}
	if v == "" {
		v = id.NewUserID().String()
	}
	tc.aliases[alias] = v
	return v
}

// ActAs makes alias the caller of subsequent engine requests.
func (tc *TestContext) ActAs(alias string) {
	tc.caller = tc.UserID(alias)
}

// ClearCaller sends subsequent requests without a bearer token.
func (tc *TestContext) ClearCaller() {
	tc.caller = ""
}

func (tc *TestContext) authHeaders() (map[string]string, error) {
	if tc.caller == "" {
		return nil, nil
	}
	userID, err := id.ParseUserID(tc.caller)
	if err != nil {
		return nil, err
	}
	token, err := tc.signer.GenerateCallerToken(context.Background(), userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to sign caller token: %w", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// POST makes an authenticated POST request to the engine and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	headers, err := tc.authHeaders()
	if err != nil {
		return err
	}
	return tc.POSTWithHeaders(tc.BaseURL+path, body, headers)
}

// POSTLedger calls the mock transaction ledger.
func (tc *TestContext) POSTLedger(path string, body interface{}) error {
	return tc.POSTWithHeaders(tc.LedgerURL+path, body, map[string]string{"X-API-Key": tc.LedgerAPIKey})
}

// POSTWithHeaders makes a POST request to an absolute URL with optional headers
func (tc *TestContext) POSTWithHeaders(url string, body interface{}, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// GET makes an authenticated GET request to the engine and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	headers, err := tc.authHeaders()
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// GetResponseField extracts a field from the JSON response. Dotted paths
// ("case.status") and numeric indexes ("tokens.0.id") walk nested values.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	current := data
	for _, part := range strings.Split(field, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %s not found in response", field)
			}
			current = next
		case []interface{}:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("field %s: bad index %q", field, part)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}
	return current, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}
	_, err := tc.GetResponseField(text)
	return err == nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
