package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryContentID      = "content_id = ?"
	reasonContentSelect = "content_select_failed"
	reasonContentInsert = "content_insert_failed"
	reasonContentUpdate = "content_update_failed"
)

// PublishRequest carries the caller-supplied fields of a new content record.
type PublishRequest struct {
	ContentID   ContentID `json:"content_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       uint64    `json:"price"`
	IsNFT       bool      `json:"is_nft"`
	Category    string    `json:"category"`
	IsPremium   bool      `json:"is_premium"`
}

func (request PublishRequest) validateFields() error {
	if err := checkStorable("content id", uint64(request.ContentID)); err != nil {
		return err
	}
	if err := checkStorable("price", request.Price); err != nil {
		return err
	}
	if err := checkText("title", request.Title, maxTitleLength, false); err != nil {
		return err
	}
	if err := checkText("description", request.Description, maxDescriptionLength, true); err != nil {
		return err
	}
	return checkText("category", request.Category, maxCategoryLength, false)
}

func (s *Service) lookupContent(txc *txContext, contentID ContentID) (ContentRecord, bool, error) {
	if uint64(contentID) > maxStorableUnsignedValue {
		return ContentRecord{}, false, nil
	}
	var record ContentRecord
	err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryContentID, uint64(contentID)).
		Take(&record).Error
	if isNotFound(err) {
		return ContentRecord{}, false, nil
	}
	if err != nil {
		return ContentRecord{}, false, s.storageFailure(txc.operation, reasonContentSelect, err,
			zap.Uint64("content_id", uint64(contentID)))
	}
	return record, true, nil
}

// PublishContent registers new content owned by the caller and upserts the caller's creator profile.
func (s *Service) PublishContent(ctx context.Context, caller Identity, request PublishRequest) (Receipt, error) {
	return s.submit(ctx, OperationPublishContent, caller, func(txc *txContext) (any, error) {
		_, exists, err := s.lookupContent(txc, request.ContentID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrContentExists
		}
		if request.Price == 0 {
			return nil, ErrInvalidPrice
		}
		if err := request.validateFields(); err != nil {
			return nil, err
		}

		record := ContentRecord{
			ContentID:       uint64(request.ContentID),
			Creator:         txc.caller.String(),
			Title:           request.Title,
			Description:     request.Description,
			Price:           request.Price,
			IsNFT:           request.IsNFT,
			Category:        request.Category,
			IsPremium:       request.IsPremium,
			TotalEarnings:   0,
			CreatedAtHeight: txc.height,
		}
		if err := txc.tx.Create(&record).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonContentInsert, err,
				zap.Uint64("content_id", record.ContentID))
		}
		if err := s.ensureCreator(txc, txc.caller); err != nil {
			return nil, err
		}
		if err := s.incrementContentCount(txc, txc.caller); err != nil {
			return nil, err
		}
		return request, nil
	})
}

// Content returns the record stored under contentID, if any.
func (s *Service) Content(ctx context.Context, contentID ContentID) (ContentRecord, bool, error) {
	if uint64(contentID) > maxStorableUnsignedValue {
		return ContentRecord{}, false, nil
	}
	var record ContentRecord
	found := true
	err := s.read(ctx, func(db *gorm.DB) error {
		err := db.Where(queryContentID, uint64(contentID)).Take(&record).Error
		if isNotFound(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return ContentRecord{}, false, s.readFailure(reasonContentSelect, err)
	}
	return record, found, nil
}
