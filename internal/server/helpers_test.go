package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/auth"
	"github.com/MarcoPoloResearchLab/streamledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testPlatformOwner = "platform-owner"
	testCreator       = "creator-1"
	testViewer        = "viewer-1"
)

var databaseSequence atomic.Int64

type sequentialIDs struct {
	next atomic.Int64
}

func (s *sequentialIDs) NewID() (string, error) {
	return fmt.Sprintf("receipt-%04d", s.next.Add(1)), nil
}

type ledgerHarness struct {
	server     *httptest.Server
	service    *platform.Service
	chain      *ledger.Chain
	tokens     *auth.TokenIssuer
	realtime   *RealtimeDispatcher
	metrics    *Metrics
	httpClient *http.Client
}

type harnessOptions struct {
	rateLimit RateLimitConfig
	heartbeat time.Duration
}

func newLedgerHarness(t *testing.T, options harnessOptions) *ledgerHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", databaseSequence.Add(1))
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(platform.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	levelDB, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("failed to open memory leveldb: %v", err)
	}
	chain, err := ledger.NewChain(levelDB, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct chain: %v", err)
	}
	t.Cleanup(func() {
		_ = chain.Close()
	})

	realtime := NewRealtimeDispatcher()
	metrics := NewMetrics()
	service, err := platform.NewService(platform.ServiceConfig{
		Database:     db,
		Heights:      chain,
		IDProvider:   &sequentialIDs{},
		Logger:       zap.NewNop(),
		GenesisOwner: testPlatformOwner,
		GenesisFee:   5,
		Observers:    []platform.TransactionObserver{chain, realtime, metrics},
	})
	if err != nil {
		t.Fatalf("failed to construct platform service: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "streamledger-auth",
		Audience:      "streamledger-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Platform:          service,
		TokenManager:      tokens,
		Chain:             chain,
		Realtime:          realtime,
		Metrics:           metrics,
		RateLimit:         options.rateLimit,
		HeartbeatInterval: options.heartbeat,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &ledgerHarness{
		server:     server,
		service:    service,
		chain:      chain,
		tokens:     tokens,
		realtime:   realtime,
		metrics:    metrics,
		httpClient: server.Client(),
	}
}

func (h *ledgerHarness) token(t *testing.T, identity platform.Identity) string {
	t.Helper()
	token, _, err := h.tokens.IssueToken(identity)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// post submits body as identity and decodes the JSON response into out when out is non-nil.
func (h *ledgerHarness) post(t *testing.T, identity platform.Identity, path string, body any, out any) int {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if identity != "" {
		request.Header.Set("Authorization", "Bearer "+h.token(t, identity))
	}
	return h.do(t, request, out)
}

func (h *ledgerHarness) get(t *testing.T, path string, out any) int {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, h.server.URL+path, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	return h.do(t, request, out)
}

func (h *ledgerHarness) do(t *testing.T, request *http.Request, out any) int {
	t.Helper()
	response, err := h.httpClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response for %s %s: %v", request.Method, request.URL.Path, err)
		}
	}
	return response.StatusCode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code"`
}

type receiptResponse struct {
	ReceiptID string          `json:"receipt_id"`
	TxHash    string          `json:"tx_hash"`
	Operation string          `json:"operation"`
	Caller    string          `json:"caller"`
	Height    uint64          `json:"height"`
	Payload   json.RawMessage `json:"payload"`
}

func samplePublishBody(contentID uint64) map[string]any {
	return map[string]any{
		"content_id":  contentID,
		"title":       "Intro",
		"description": "first upload",
		"price":       1000,
		"is_nft":      false,
		"category":    "video",
		"is_premium":  true,
	}
}
