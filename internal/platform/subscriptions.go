package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlocksPerDay converts subscription days into blocks (one block every ten minutes).
const BlocksPerDay uint64 = 144

const (
	querySubscriberCreator   = "subscriber = ? AND creator = ?"
	maxSubscriptionDays      = maxStorableUnsignedValue / BlocksPerDay
	reasonSubscriptionSelect = "subscription_select_failed"
	reasonSubscriptionUpsert = "subscription_upsert_failed"
)

// expiresAt is the first height at which the subscription is no longer active.
func (sub Subscription) expiresAt() uint64 {
	return sub.StartHeight + sub.DurationBlocks
}

// ActiveAt reports liveness at height. The stored Active flag alone is not enough.
func (sub Subscription) ActiveAt(height uint64) bool {
	return sub.Active && height < sub.expiresAt()
}

// RemainingAt returns max(0, start+duration-height).
func (sub Subscription) RemainingAt(height uint64) uint64 {
	end := sub.expiresAt()
	if height >= end {
		return 0
	}
	return end - height
}

// SubscriptionStatus is the derived view of a (subscriber, creator) pair at the current height.
type SubscriptionStatus struct {
	IsActive        bool   `json:"is_active"`
	RemainingBlocks uint64 `json:"remaining_blocks"`
}

type subscribePayload struct {
	Creator          string `json:"creator"`
	DurationDays     uint64 `json:"duration_days"`
	DurationBlocks   uint64 `json:"duration_blocks"`
	SubscriptionType string `json:"subscription_type"`
	StartHeight      uint64 `json:"start_height"`
}

// SubscribeToCreator opens a time-boxed subscription from the caller to creator. An expired
// subscription for the same pair is replaced; an active one is rejected.
func (s *Service) SubscribeToCreator(ctx context.Context, caller Identity, creator Identity, durationDays uint64, subscriptionType string) (Receipt, error) {
	return s.submit(ctx, OperationSubscribeToCreator, caller, func(txc *txContext) (any, error) {
		if durationDays == 0 || durationDays > maxSubscriptionDays {
			return nil, ErrInvalidDuration
		}
		if err := creator.validate(); err != nil {
			return nil, err
		}
		if err := checkText("subscription type", subscriptionType, maxSubscriptionTypeLen, false); err != nil {
			return nil, err
		}

		var existing Subscription
		err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(querySubscriberCreator, txc.caller.String(), creator.String()).
			Take(&existing).Error
		switch {
		case isNotFound(err):
		case err != nil:
			return nil, s.storageFailure(txc.operation, reasonSubscriptionSelect, err,
				zap.String("creator", creator.String()))
		case existing.ActiveAt(txc.height):
			return nil, ErrAlreadySubscribed
		}

		record := Subscription{
			Subscriber:       txc.caller.String(),
			Creator:          creator.String(),
			StartHeight:      txc.height,
			DurationBlocks:   durationDays * BlocksPerDay,
			SubscriptionType: subscriptionType,
			Active:           true,
		}
		if err := txc.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonSubscriptionUpsert, err,
				zap.String("creator", creator.String()))
		}
		if err := s.ensureCreator(txc, creator); err != nil {
			return nil, err
		}
		if err := s.incrementSubscriberCount(txc, creator); err != nil {
			return nil, err
		}
		return subscribePayload{
			Creator:          creator.String(),
			DurationDays:     durationDays,
			DurationBlocks:   record.DurationBlocks,
			SubscriptionType: subscriptionType,
			StartHeight:      record.StartHeight,
		}, nil
	})
}

// SubscriptionStatus derives liveness for (subscriber, creator) from the current height.
// A missing record yields an inactive status, never an error.
func (s *Service) SubscriptionStatus(ctx context.Context, subscriber Identity, creator Identity) (SubscriptionStatus, error) {
	var record Subscription
	found := true
	var height uint64
	err := s.read(ctx, func(db *gorm.DB) error {
		currentHeight, err := s.currentHeight(ctx)
		if err != nil {
			return err
		}
		height = currentHeight
		err = db.Where(querySubscriberCreator, subscriber.String(), creator.String()).Take(&record).Error
		if isNotFound(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return SubscriptionStatus{}, s.readFailure(reasonSubscriptionSelect, err)
	}
	if !found {
		return SubscriptionStatus{}, nil
	}
	return SubscriptionStatus{
		IsActive:        record.ActiveAt(height),
		RemainingBlocks: record.RemainingAt(height),
	}, nil
}
