package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MinRating and MaxRating bound a rating value, inclusive.
	MinRating = 1
	MaxRating = 5

	queryContentRater   = "content_id = ? AND rater = ?"
	reasonRatingSelect  = "rating_select_failed"
	reasonRatingInsert  = "rating_insert_failed"
	reasonSummarySelect = "rating_summary_select_failed"
	reasonSummaryUpdate = "rating_summary_update_failed"
)

// Average returns floor(sum/count). Half-integer averages are truncated.
func (summary ContentRatingSummary) Average() uint64 {
	if summary.RatingCount == 0 {
		return 0
	}
	return summary.RatingSum / summary.RatingCount
}

type ratePayload struct {
	ContentID ContentID `json:"content_id"`
	Rating    uint64    `json:"rating"`
}

// RateContent records the caller's one and only rating for contentID.
func (s *Service) RateContent(ctx context.Context, caller Identity, contentID ContentID, rating uint64) (Receipt, error) {
	return s.submit(ctx, OperationRateContent, caller, func(txc *txContext) (any, error) {
		_, found, err := s.lookupContent(txc, contentID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrContentNotFound
		}
		if rating < MinRating || rating > MaxRating {
			return nil, ErrInvalidRating
		}

		var previous ContentRating
		err = txc.tx.Where(queryContentRater, uint64(contentID), txc.caller.String()).Take(&previous).Error
		switch {
		case err == nil:
			return nil, ErrAlreadyRated
		case !isNotFound(err):
			return nil, s.storageFailure(txc.operation, reasonRatingSelect, err,
				zap.Uint64("content_id", uint64(contentID)))
		}

		entry := ContentRating{
			ContentID:     uint64(contentID),
			Rater:         txc.caller.String(),
			Rating:        uint8(rating),
			RatedAtHeight: txc.height,
		}
		if err := txc.tx.Create(&entry).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonRatingInsert, err,
				zap.Uint64("content_id", uint64(contentID)))
		}
		if err := s.accumulateRating(txc, contentID, rating); err != nil {
			return nil, err
		}
		return ratePayload{ContentID: contentID, Rating: rating}, nil
	})
}

func (s *Service) accumulateRating(txc *txContext, contentID ContentID, rating uint64) error {
	var summary ContentRatingSummary
	err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryContentID, uint64(contentID)).
		Take(&summary).Error
	if isNotFound(err) {
		summary = ContentRatingSummary{ContentID: uint64(contentID), RatingSum: rating, RatingCount: 1}
		if err := txc.tx.Create(&summary).Error; err != nil {
			return s.storageFailure(txc.operation, reasonSummaryUpdate, err)
		}
		return nil
	}
	if err != nil {
		return s.storageFailure(txc.operation, reasonSummarySelect, err)
	}
	err = txc.tx.Model(&ContentRatingSummary{}).
		Where(queryContentID, uint64(contentID)).
		UpdateColumns(map[string]any{
			"rating_sum":   summary.RatingSum + rating,
			"rating_count": summary.RatingCount + 1,
		}).Error
	if err != nil {
		return s.storageFailure(txc.operation, reasonSummaryUpdate, err)
	}
	return nil
}

// ContentRating returns the floor-divided average rating. Content that is absent or has never
// been rated yields ErrContentNotFound.
func (s *Service) ContentRating(ctx context.Context, contentID ContentID) (uint64, error) {
	if uint64(contentID) > maxStorableUnsignedValue {
		return 0, ErrContentNotFound
	}
	var summary ContentRatingSummary
	found := true
	err := s.read(ctx, func(db *gorm.DB) error {
		err := db.Where(queryContentID, uint64(contentID)).Take(&summary).Error
		if isNotFound(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return 0, s.readFailure(reasonSummarySelect, err)
	}
	if !found || summary.RatingCount == 0 {
		return 0, ErrContentNotFound
	}
	return summary.Average(), nil
}
