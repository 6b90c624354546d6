package platform

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	reasonReceiptSelect = "receipt_select_failed"
	querySequenceAfter  = "sequence > ?"
	orderSequenceAsc    = "sequence ASC"
)

// Receipt is the append-only record of a committed transaction.
type Receipt struct {
	Sequence    int64  `gorm:"column:sequence;primaryKey;autoIncrement"`
	ReceiptID   string `gorm:"column:receipt_id;size:64;not null;uniqueIndex"`
	TxHash      string `gorm:"column:tx_hash;size:66;not null;uniqueIndex"`
	Operation   string `gorm:"column:operation;size:64;not null;index"`
	Caller      string `gorm:"column:caller;size:190;not null;index"`
	Height      uint64 `gorm:"column:height;not null;index"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Receipt) TableName() string {
	return "transaction_receipts"
}

// Hash returns the transaction hash as a go-ethereum hash value.
func (r Receipt) Hash() common.Hash {
	return common.HexToHash(r.TxHash)
}

// IDProvider issues receipt identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func (s *Service) buildReceipt(operation string, caller Identity, height uint64, payload any) (Receipt, error) {
	receiptID, err := s.idProvider.NewID()
	if err != nil {
		return Receipt{}, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}
	hash := transactionHash(receiptID, operation, caller, height, payloadJSON)
	return Receipt{
		ReceiptID:   receiptID,
		TxHash:      hash.Hex(),
		Operation:   operation,
		Caller:      caller.String(),
		Height:      height,
		PayloadJSON: string(payloadJSON),
	}, nil
}

func transactionHash(receiptID, operation string, caller Identity, height uint64, payloadJSON []byte) common.Hash {
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	return crypto.Keccak256Hash(
		[]byte(receiptID),
		[]byte(operation),
		[]byte(caller),
		heightBytes[:],
		payloadJSON,
	)
}

// ReceiptsAfter returns the receipts committed after sequence, oldest first. The block store
// uses it to re-queue transactions that were committed but never sealed.
func (s *Service) ReceiptsAfter(ctx context.Context, sequence int64) ([]Receipt, error) {
	var receipts []Receipt
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where(querySequenceAfter, sequence).Order(orderSequenceAsc).Find(&receipts).Error
	})
	if err != nil {
		return nil, s.readFailure(reasonReceiptSelect, err)
	}
	return receipts, nil
}
