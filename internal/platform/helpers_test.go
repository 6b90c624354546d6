package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOwner   Identity = "platform-owner"
	testCreator Identity = "creator-1"
	testViewer  Identity = "viewer-1"
)

type stubHeights struct {
	mu     sync.Mutex
	height uint64
	err    error
}

func (h *stubHeights) CurrentHeight(context.Context) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	return h.height, nil
}

func (h *stubHeights) set(height uint64) {
	h.mu.Lock()
	h.height = height
	h.mu.Unlock()
}

func (h *stubHeights) advance(blocks uint64) {
	h.mu.Lock()
	h.height += blocks
	h.mu.Unlock()
}

type sequenceIDGenerator struct {
	next int
	err  error
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.next++
	return fmt.Sprintf("receipt-%04d", g.next), nil
}

type recordingObserver struct {
	mu        sync.Mutex
	committed []Receipt
	rejected  []error
}

func (o *recordingObserver) TransactionCommitted(receipt Receipt) {
	o.mu.Lock()
	o.committed = append(o.committed, receipt)
	o.mu.Unlock()
}

func (o *recordingObserver) TransactionRejected(_ string, _ Identity, err error) {
	o.mu.Lock()
	o.rejected = append(o.rejected, err)
	o.mu.Unlock()
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	heights  *stubHeights
	ids      *sequenceIDGenerator
	observer *recordingObserver
}

type harnessOption func(cfg *ServiceConfig)

func withDiagnostics() harnessOption {
	return func(cfg *ServiceConfig) {
		cfg.Diagnostics = true
	}
}

func withLogger(logger *zap.Logger) harnessOption {
	return func(cfg *ServiceConfig) {
		cfg.Logger = logger
	}
}

func withLevelTiers(tiers []LevelTier) harnessOption {
	return func(cfg *ServiceConfig) {
		cfg.LevelTiers = tiers
	}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:streamledger_platform_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

func newTestHarness(t *testing.T, options ...harnessOption) *testHarness {
	t.Helper()
	db := openTestDatabase(t)
	heights := &stubHeights{height: 1}
	ids := &sequenceIDGenerator{}
	observer := &recordingObserver{}

	cfg := ServiceConfig{
		Database:     db,
		Heights:      heights,
		IDProvider:   ids,
		GenesisOwner: testOwner,
		GenesisFee:   5,
		Observers:    []TransactionObserver{observer},
	}
	for _, option := range options {
		option(&cfg)
	}

	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct platform service: %v", err)
	}
	return &testHarness{service: service, db: db, heights: heights, ids: ids, observer: observer}
}

func (h *testHarness) publish(t *testing.T, caller Identity, contentID ContentID) Receipt {
	t.Helper()
	receipt, err := h.service.PublishContent(context.Background(), caller, samplePublishRequest(contentID))
	if err != nil {
		t.Fatalf("publish %d failed: %v", contentID, err)
	}
	return receipt
}

func (h *testHarness) receiptCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&Receipt{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count receipts: %v", err)
	}
	return count
}

func samplePublishRequest(contentID ContentID) PublishRequest {
	return PublishRequest{
		ContentID:   contentID,
		Title:       "Intro",
		Description: "first upload",
		Price:       1000,
		Category:    "video",
	}
}

func requireLedgerError(t *testing.T, err error, expected *LedgerError) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", expected.Name())
	}
	if !errors.Is(err, expected) {
		t.Fatalf("expected %s, got %v", expected.Name(), err)
	}
}
