package platform

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const percentDenominator = 100

// splitSettlement returns floor(gross*feePercent/100) and the remainder owed to the creator.
func splitSettlement(gross, feePercent uint64) (platformFee uint64, creatorShare uint64) {
	platformFee = (gross/percentDenominator)*feePercent + (gross%percentDenominator)*feePercent/percentDenominator
	return platformFee, gross - platformFee
}

type settlementPayload struct {
	ContentID    ContentID `json:"content_id"`
	Creator      string    `json:"creator"`
	GrossAmount  uint64    `json:"gross_amount"`
	FeePercent   uint64    `json:"fee_percent"`
	PlatformFee  uint64    `json:"platform_fee"`
	CreatorShare uint64    `json:"creator_share"`
}

// RecordSettlement books a completed sale of contentID reported by the settlement layer, which
// runs as the platform owner. Value never moves here; only the earnings totals change.
func (s *Service) RecordSettlement(ctx context.Context, caller Identity, contentID ContentID, grossAmount uint64) (Receipt, error) {
	return s.submit(ctx, OperationRecordSettlement, caller, func(txc *txContext) (any, error) {
		settings, err := s.loadSettings(txc)
		if err != nil {
			return nil, err
		}
		if err := settings.requireOwner(txc.caller); err != nil {
			return nil, err
		}
		record, found, err := s.lookupContent(txc, contentID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrContentNotFound
		}
		if grossAmount == 0 {
			return nil, ErrInvalidPrice
		}
		if err := checkStorable("gross amount", grossAmount); err != nil {
			return nil, err
		}

		platformFee, creatorShare := splitSettlement(grossAmount, settings.FeePercent)
		creator := Identity(record.Creator)
		profile, profileFound, err := s.lookupCreator(txc, creator)
		if err != nil {
			return nil, err
		}
		if !profileFound {
			return nil, ErrCreatorNotFound
		}
		if err := checkEarnings(record.TotalEarnings, creatorShare); err != nil {
			return nil, err
		}
		if err := checkEarnings(profile.TotalEarnings, creatorShare); err != nil {
			return nil, err
		}

		if err := txc.tx.Model(&ContentRecord{}).
			Where(queryContentID, uint64(contentID)).
			UpdateColumn(columnTotalEarnings, record.TotalEarnings+creatorShare).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonContentUpdate, err,
				zap.Uint64("content_id", uint64(contentID)))
		}
		if err := s.incrementCreator(txc, creator, columnTotalEarnings, creatorShare); err != nil {
			return nil, err
		}
		return settlementPayload{
			ContentID:    contentID,
			Creator:      record.Creator,
			GrossAmount:  grossAmount,
			FeePercent:   settings.FeePercent,
			PlatformFee:  platformFee,
			CreatorShare: creatorShare,
		}, nil
	})
}

func checkEarnings(current, delta uint64) error {
	if delta > maxStorableUnsignedValue-current {
		return fmt.Errorf("%w: total earnings would exceed %d", ErrInvalidField, uint64(maxStorableUnsignedValue))
	}
	return nil
}
