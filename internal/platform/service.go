package platform

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingHeightSource = errors.New("height source is required")
	errMissingIDProvider   = errors.New("id provider is required")
	noOpLogger             = zap.NewNop()
)

// Operation names as they appear on the ledger surface and in receipts.
const (
	OperationPublishContent     = "publish-content"
	OperationSubscribeToCreator = "subscribe-to-creator"
	OperationRateContent        = "rate-content"
	OperationCreatePlaylist     = "create-playlist"
	OperationAddToPlaylist      = "add-to-playlist"
	OperationLevelUpCreator     = "level-up-creator"
	OperationSetPlatformFee     = "set-platform-fee"
	OperationSetPlatformOwner   = "set-platform-owner"
	OperationRecordSettlement   = "record-settlement"
	OperationVerifyCreator      = "verify-creator"
	OperationSetSubscriberCount = "test-set-subscriber-count"

	opServiceNew = "service_new"
	opRead       = "read"
)

// HeightSource supplies the ledger's block height. The service only ever reads it.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// TransactionObserver is notified after a transaction commits or is rejected.
type TransactionObserver interface {
	TransactionCommitted(receipt Receipt)
	TransactionRejected(operation string, caller Identity, err error)
}

// ServiceConfig describes the dependencies of the ledger core.
type ServiceConfig struct {
	Database     *gorm.DB
	Heights      HeightSource
	IDProvider   IDProvider
	Logger       *zap.Logger
	GenesisOwner Identity
	GenesisFee   uint64
	LevelTiers   []LevelTier
	// Diagnostics enables the privileged subscriber-count override. Keep it off in production.
	Diagnostics bool
	Observers   []TransactionObserver
}

// Service applies ledger transactions one at a time. Each mutating call commits fully or not at all.
type Service struct {
	db          *gorm.DB
	heights     HeightSource
	idProvider  IDProvider
	logger      *zap.Logger
	leveling    levelingPolicy
	diagnostics bool
	observers   []TransactionObserver

	// mu is the transaction boundary: writers hold it exclusively, readers shared.
	mu sync.RWMutex
}

// NewService validates dependencies and seeds the platform settings row on first start.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Heights == nil {
		return nil, newServiceError(opServiceNew, "missing_height_source", errMissingHeightSource)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if err := cfg.GenesisOwner.validate(); err != nil {
		return nil, newServiceError(opServiceNew, "invalid_genesis_owner", err)
	}
	if cfg.GenesisFee > MaxFeePercent {
		return nil, newServiceError(opServiceNew, "invalid_genesis_fee", ErrInvalidPrice)
	}

	tiers := cfg.LevelTiers
	if tiers == nil {
		tiers = DefaultLevelTiers()
	}
	leveling, err := newLevelingPolicy(tiers)
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_level_tiers", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	service := &Service{
		db:          cfg.Database,
		heights:     cfg.Heights,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		leveling:    leveling,
		diagnostics: cfg.Diagnostics,
		observers:   append([]TransactionObserver(nil), cfg.Observers...),
	}

	if err := seedSettings(cfg.Database, cfg.GenesisOwner, cfg.GenesisFee); err != nil {
		service.logError(opServiceNew, "settings_seed_failed", err)
		return nil, newServiceError(opServiceNew, "settings_seed_failed", err)
	}

	return service, nil
}

// txContext is what a transaction body sees: the open database transaction, the height it
// executes at, and the authenticated caller.
type txContext struct {
	tx        *gorm.DB
	height    uint64
	caller    Identity
	operation string
}

type transactionBody func(txc *txContext) (any, error)

// submit runs body as one atomic ledger transaction and appends its receipt.
func (s *Service) submit(ctx context.Context, operation string, caller Identity, body transactionBody) (Receipt, error) {
	if s == nil || s.db == nil {
		return Receipt{}, newServiceError(operation, "missing_database", errMissingDatabase)
	}
	if err := caller.validate(); err != nil {
		s.notifyRejected(operation, caller, err)
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	height, err := s.heights.CurrentHeight(ctx)
	if err != nil {
		s.logError(operation, "height_unavailable", err, zap.String("caller", caller.String()))
		serviceErr := newServiceError(operation, "height_unavailable", err)
		s.notifyRejected(operation, caller, serviceErr)
		return Receipt{}, serviceErr
	}

	var receipt Receipt
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := &txContext{tx: tx, height: height, caller: caller, operation: operation}
		payload, err := body(txc)
		if err != nil {
			return err
		}
		built, err := s.buildReceipt(operation, caller, height, payload)
		if err != nil {
			return s.storageFailure(operation, "receipt_build_failed", err)
		}
		if err := tx.Create(&built).Error; err != nil {
			return s.storageFailure(operation, "receipt_insert_failed", err)
		}
		receipt = built
		return nil
	})
	if txErr != nil {
		s.notifyRejected(operation, caller, txErr)
		return Receipt{}, txErr
	}

	s.logger.Debug("transaction committed",
		zap.String("operation", operation),
		zap.String("caller", caller.String()),
		zap.Uint64("height", height),
		zap.String("tx_hash", receipt.TxHash))
	for _, observer := range s.observers {
		observer.TransactionCommitted(receipt)
	}
	return receipt, nil
}

// Exclusive runs fn while no transaction is executing. Block sealing goes through it, so every
// transaction lands in the block right after the height it executed at.
func (s *Service) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// read runs a read-only query under the shared lock.
func (s *Service) read(ctx context.Context, query func(db *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return newServiceError(opRead, "missing_database", errMissingDatabase)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return query(s.db.WithContext(ctx))
}

func (s *Service) currentHeight(ctx context.Context) (uint64, error) {
	height, err := s.heights.CurrentHeight(ctx)
	if err != nil {
		s.logError(opRead, "height_unavailable", err)
		return 0, newServiceError(opRead, "height_unavailable", err)
	}
	return height, nil
}

func (s *Service) notifyRejected(operation string, caller Identity, err error) {
	if ledgerErr, ok := AsLedgerError(err); ok {
		s.loggerOrDefault().Info("transaction rejected",
			zap.String("operation", operation),
			zap.String("caller", caller.String()),
			zap.String("error", ledgerErr.Name()),
			zap.Uint32("code", uint32(ledgerErr.Code())))
	}
	for _, observer := range s.observers {
		observer.TransactionRejected(operation, caller, err)
	}
}

// storageFailure logs an infrastructure error and converts it into a ServiceError.
func (s *Service) storageFailure(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("platform service error", attrs...)
}

// readFailure passes service errors through and wraps storage errors of read paths.
func (s *Service) readFailure(reason string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	return s.storageFailure(opRead, reason, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
