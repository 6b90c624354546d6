package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryCreator           = "creator = ?"
	columnTotalContent     = "total_content"
	columnSubscriberCount  = "subscriber_count"
	columnTotalEarnings    = "total_earnings"
	columnCreatorLevel     = "creator_level"
	initialCreatorLevel    = 1
	reasonCreatorUpsert    = "creator_upsert_failed"
	reasonCreatorSelect    = "creator_select_failed"
	reasonCreatorUpdate    = "creator_update_failed"
	reasonCreatorIncrement = "creator_increment_failed"
)

// ensureCreator upserts a default profile for creator. Existing profiles are left untouched.
func (s *Service) ensureCreator(txc *txContext, creator Identity) error {
	profile := CreatorProfile{
		Creator:         creator.String(),
		CreatorLevel:    initialCreatorLevel,
		CreatedAtHeight: txc.height,
	}
	if err := txc.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error; err != nil {
		return s.storageFailure(txc.operation, reasonCreatorUpsert, err, zap.String("creator", creator.String()))
	}
	return nil
}

func (s *Service) lookupCreator(txc *txContext, creator Identity) (CreatorProfile, bool, error) {
	var profile CreatorProfile
	err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryCreator, creator.String()).
		Take(&profile).Error
	if isNotFound(err) {
		return CreatorProfile{}, false, nil
	}
	if err != nil {
		return CreatorProfile{}, false, s.storageFailure(txc.operation, reasonCreatorSelect, err,
			zap.String("creator", creator.String()))
	}
	return profile, true, nil
}

// incrementCreator adds delta to one counter column. Callers ensure the profile exists first.
func (s *Service) incrementCreator(txc *txContext, creator Identity, column string, delta uint64) error {
	err := txc.tx.Model(&CreatorProfile{}).
		Where(queryCreator, creator.String()).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
	if err != nil {
		return s.storageFailure(txc.operation, reasonCreatorIncrement, err,
			zap.String("creator", creator.String()),
			zap.String("column", column))
	}
	return nil
}

func (s *Service) incrementContentCount(txc *txContext, creator Identity) error {
	return s.incrementCreator(txc, creator, columnTotalContent, 1)
}

func (s *Service) incrementSubscriberCount(txc *txContext, creator Identity) error {
	return s.incrementCreator(txc, creator, columnSubscriberCount, 1)
}

// Creator returns the profile of identity, if one exists.
func (s *Service) Creator(ctx context.Context, identity Identity) (CreatorProfile, bool, error) {
	var profile CreatorProfile
	found := true
	err := s.read(ctx, func(db *gorm.DB) error {
		err := db.Where(queryCreator, identity.String()).Take(&profile).Error
		if isNotFound(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return CreatorProfile{}, false, s.readFailure(reasonCreatorSelect, err)
	}
	return profile, found, nil
}

type verifyPayload struct {
	Creator string `json:"creator"`
}

// VerifyCreator marks a creator as verified. Platform owner only.
func (s *Service) VerifyCreator(ctx context.Context, caller Identity, creator Identity) (Receipt, error) {
	return s.submit(ctx, OperationVerifyCreator, caller, func(txc *txContext) (any, error) {
		settings, err := s.loadSettings(txc)
		if err != nil {
			return nil, err
		}
		if err := settings.requireOwner(txc.caller); err != nil {
			return nil, err
		}
		_, found, err := s.lookupCreator(txc, creator)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrCreatorNotFound
		}
		if err := txc.tx.Model(&CreatorProfile{}).
			Where(queryCreator, creator.String()).
			Update("verified", true).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonCreatorUpdate, err)
		}
		return verifyPayload{Creator: creator.String()}, nil
	})
}

type subscriberCountPayload struct {
	Creator         string `json:"creator"`
	SubscriberCount uint64 `json:"subscriber_count"`
}

// ForceSetSubscriberCount overwrites a creator's subscriber count. It is a privileged diagnostic
// that bypasses the subscription path: it requires the platform owner and a service built with
// Diagnostics enabled, and rejects everyone otherwise.
func (s *Service) ForceSetSubscriberCount(ctx context.Context, caller Identity, creator Identity, count uint64) (Receipt, error) {
	return s.submit(ctx, OperationSetSubscriberCount, caller, func(txc *txContext) (any, error) {
		if !s.diagnostics {
			return nil, ErrNotAuthorized
		}
		settings, err := s.loadSettings(txc)
		if err != nil {
			return nil, err
		}
		if err := settings.requireOwner(txc.caller); err != nil {
			return nil, err
		}
		if err := creator.validate(); err != nil {
			return nil, err
		}
		if err := checkStorable("subscriber count", count); err != nil {
			return nil, err
		}
		if err := s.ensureCreator(txc, creator); err != nil {
			return nil, err
		}
		if err := txc.tx.Model(&CreatorProfile{}).
			Where(queryCreator, creator.String()).
			UpdateColumn(columnSubscriberCount, count).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonCreatorUpdate, err)
		}
		s.logger.Warn("subscriber count overridden",
			zap.String("creator", creator.String()),
			zap.Uint64("subscriber_count", count))
		return subscriberCountPayload{Creator: creator.String(), SubscriberCount: count}, nil
	})
}
