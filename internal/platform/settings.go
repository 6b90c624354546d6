package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MaxFeePercent is the inclusive upper bound of the platform fee.
	MaxFeePercent = 100

	settingsRowID = 1
	querySettings = "id = ?"
)

// PlatformSettings is the singleton platform configuration. It is loaded inside every admin
// transaction and handed to the guard explicitly.
type PlatformSettings struct {
	ID         uint8  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Owner      string `gorm:"column:owner;size:190;not null"`
	FeePercent uint64 `gorm:"column:fee_percent;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PlatformSettings) TableName() string {
	return "platform_settings"
}

// OwnerIdentity returns the current platform owner.
func (settings PlatformSettings) OwnerIdentity() Identity {
	return Identity(settings.Owner)
}

func (settings PlatformSettings) requireOwner(caller Identity) error {
	return requireIdentity(caller, settings.OwnerIdentity())
}

// requireIdentity is the single authorization check shared by every gated operation.
func requireIdentity(caller, expected Identity) error {
	if caller == "" || caller != expected {
		return ErrNotAuthorized
	}
	return nil
}

// seedSettings inserts the settings row unless a previous run already created it.
func seedSettings(db *gorm.DB, owner Identity, fee uint64) error {
	genesis := PlatformSettings{ID: settingsRowID, Owner: owner.String(), FeePercent: fee}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&genesis).Error
}

func (s *Service) loadSettings(txc *txContext) (PlatformSettings, error) {
	var settings PlatformSettings
	err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(querySettings, settingsRowID).
		Take(&settings).Error
	if err != nil {
		return PlatformSettings{}, s.storageFailure(txc.operation, "settings_select_failed", err)
	}
	return settings, nil
}

type feePayload struct {
	FeePercent uint64 `json:"fee_percent"`
}

// SetPlatformFee changes the fee percentage. Only the current owner may call it.
func (s *Service) SetPlatformFee(ctx context.Context, caller Identity, fee uint64) (Receipt, error) {
	return s.submit(ctx, OperationSetPlatformFee, caller, func(txc *txContext) (any, error) {
		settings, err := s.loadSettings(txc)
		if err != nil {
			return nil, err
		}
		if err := settings.requireOwner(txc.caller); err != nil {
			return nil, err
		}
		if fee > MaxFeePercent {
			return nil, ErrInvalidPrice
		}
		if err := txc.tx.Model(&PlatformSettings{}).
			Where(querySettings, settingsRowID).
			Update("fee_percent", fee).Error; err != nil {
			return nil, s.storageFailure(txc.operation, "settings_update_failed", err)
		}
		return feePayload{FeePercent: fee}, nil
	})
}

type ownerPayload struct {
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

// SetPlatformOwner transfers platform ownership. Subsequent admin calls require newOwner.
func (s *Service) SetPlatformOwner(ctx context.Context, caller Identity, newOwner Identity) (Receipt, error) {
	return s.submit(ctx, OperationSetPlatformOwner, caller, func(txc *txContext) (any, error) {
		settings, err := s.loadSettings(txc)
		if err != nil {
			return nil, err
		}
		if err := settings.requireOwner(txc.caller); err != nil {
			return nil, err
		}
		if err := newOwner.validate(); err != nil {
			return nil, err
		}
		if err := txc.tx.Model(&PlatformSettings{}).
			Where(querySettings, settingsRowID).
			Update("owner", newOwner.String()).Error; err != nil {
			return nil, s.storageFailure(txc.operation, "settings_update_failed", err,
				zap.String("new_owner", newOwner.String()))
		}
		return ownerPayload{PreviousOwner: settings.Owner, NewOwner: newOwner.String()}, nil
	})
}

// Settings returns the current owner and fee.
func (s *Service) Settings(ctx context.Context) (PlatformSettings, error) {
	var settings PlatformSettings
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where(querySettings, settingsRowID).Take(&settings).Error
	})
	if err != nil {
		return PlatformSettings{}, s.readFailure("settings_select_failed", err)
	}
	return settings, nil
}
