package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

const (
	keyLatestHeight   = "height_latest"
	keySealedSequence = "sealed_sequence"
	blockKeyPattern   = "block_%d"
	hashKeyPattern    = "hash_%s"
	genesisHeight     = 0
	genesisTimeSecond = 0
)

var (
	errMissingStore = errors.New("ledger store is required")
	errChainClosed  = errors.New("ledger chain is closed")
)

// Block is one sealed batch of committed transaction hashes. Its height is the clock the
// platform core reads.
type Block struct {
	Height     uint64   `json:"height"`
	ParentHash string   `json:"parent_hash"`
	Hash       string   `json:"hash"`
	TxRoot     string   `json:"tx_root"`
	Timestamp  int64    `json:"timestamp"`
	TxHashes   []string `json:"tx_hashes"`
}

// Chain is the LevelDB-backed block store. It implements platform.HeightSource and
// platform.TransactionObserver.
type Chain struct {
	mu      sync.Mutex
	db      *leveldb.DB
	logger  *zap.Logger
	head    Block
	pending []pendingTransaction
	closed  bool

	// sealedSequence is the highest receipt sequence contained in a sealed block.
	sealedSequence int64
	// queuedSequence is the highest receipt sequence sealed or waiting in pending.
	queuedSequence int64
}

type pendingTransaction struct {
	hash     common.Hash
	sequence int64
}

// UnsealedReceipts lists committed receipts with a sequence above the given watermark, in
// commit order.
type UnsealedReceipts interface {
	ReceiptsAfter(ctx context.Context, sequence int64) ([]platform.Receipt, error)
}

// Open opens or creates the chain database at path.
func Open(path string, logger *zap.Logger) (*Chain, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	chain, err := NewChain(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	chain.logger.Info("ledger initialized", zap.String("path", path), zap.Uint64("height", chain.head.Height))
	return chain, nil
}

// NewChain wraps an open LevelDB handle, writing the genesis block when the store is empty.
func NewChain(db *leveldb.DB, logger *zap.Logger) (*Chain, error) {
	if db == nil {
		return nil, errMissingStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	chain := &Chain{db: db, logger: logger}

	head, found, err := chain.loadHead()
	if err != nil {
		return nil, err
	}
	if !found {
		head = genesisBlock()
		if err := chain.persist(head, 0); err != nil {
			return nil, fmt.Errorf("write genesis block: %w", err)
		}
	}
	sealed, err := chain.loadSealedSequence()
	if err != nil {
		return nil, err
	}
	chain.head = head
	chain.sealedSequence = sealed
	chain.queuedSequence = sealed
	return chain, nil
}

func genesisBlock() Block {
	block := Block{
		Height:     genesisHeight,
		ParentHash: common.Hash{}.Hex(),
		TxRoot:     emptyTxRoot.Hex(),
		Timestamp:  genesisTimeSecond,
		TxHashes:   []string{},
	}
	block.Hash = blockHash(block).Hex()
	return block
}

// blockHash commits to every header field.
func blockHash(block Block) common.Hash {
	var height, timestamp [8]byte
	binary.BigEndian.PutUint64(height[:], block.Height)
	binary.BigEndian.PutUint64(timestamp[:], uint64(block.Timestamp))
	return crypto.Keccak256Hash(
		height[:],
		common.HexToHash(block.ParentHash).Bytes(),
		common.HexToHash(block.TxRoot).Bytes(),
		timestamp[:],
	)
}

// CurrentHeight returns the head height.
func (c *Chain) CurrentHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errChainClosed
	}
	return c.head.Height, nil
}

// Head returns the latest sealed block.
func (c *Chain) Head() Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// PendingCount reports how many committed transactions await the next block.
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SealedSequence returns the highest receipt sequence already contained in a block.
func (c *Chain) SealedSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealedSequence
}

// TransactionCommitted queues the receipt's hash for the next block. A receipt whose sequence
// is already sealed or queued is ignored.
func (c *Chain) TransactionCommitted(receipt platform.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(receipt)
}

func (c *Chain) enqueue(receipt platform.Receipt) bool {
	if receipt.Sequence != 0 {
		if receipt.Sequence <= c.queuedSequence {
			return false
		}
		c.queuedSequence = receipt.Sequence
	}
	c.pending = append(c.pending, pendingTransaction{hash: receipt.Hash(), sequence: receipt.Sequence})
	return true
}

// Recover re-queues receipts committed after the last sealed block, such as those left
// pending when the node stopped. Call it before the node accepts transactions.
func (c *Chain) Recover(ctx context.Context, source UnsealedReceipts) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, errChainClosed
	}
	watermark := c.sealedSequence
	c.mu.Unlock()

	receipts, err := source.ReceiptsAfter(ctx, watermark)
	if err != nil {
		return 0, fmt.Errorf("load unsealed receipts: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	recovered := 0
	for _, receipt := range receipts {
		if c.enqueue(receipt) {
			recovered++
		}
	}
	if recovered > 0 {
		c.logger.Info("unsealed transactions recovered",
			zap.Int("transactions", recovered),
			zap.Int64("sealed_sequence", watermark))
	}
	return recovered, nil
}

// TransactionRejected is a no-op: rejected transactions never reach a block.
func (c *Chain) TransactionRejected(string, platform.Identity, error) {}

// MineBlock seals the pending transactions into the next block. Empty blocks are sealed too,
// since the height doubles as the platform clock.
func (c *Chain) MineBlock(now time.Time) (Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Block{}, errChainClosed
	}

	txHashes := make([]string, 0, len(c.pending))
	leaves := make([]common.Hash, 0, len(c.pending))
	sealed := c.sealedSequence
	for _, transaction := range c.pending {
		txHashes = append(txHashes, transaction.hash.Hex())
		leaves = append(leaves, transaction.hash)
		if transaction.sequence > sealed {
			sealed = transaction.sequence
		}
	}
	block := Block{
		Height:     c.head.Height + 1,
		ParentHash: c.head.Hash,
		TxRoot:     merkleRoot(leaves).Hex(),
		Timestamp:  now.UTC().Unix(),
		TxHashes:   txHashes,
	}
	block.Hash = blockHash(block).Hex()

	if err := c.persist(block, sealed); err != nil {
		c.logger.Error("block persist failed", zap.Uint64("height", block.Height), zap.Error(err))
		return Block{}, err
	}
	c.head = block
	c.pending = nil
	c.sealedSequence = sealed
	c.logger.Debug("block sealed",
		zap.Uint64("height", block.Height),
		zap.String("hash", block.Hash),
		zap.Int("transactions", len(block.TxHashes)))
	return block, nil
}

// persist writes the block under both keys and advances height_latest and sealed_sequence
// atomically.
func (c *Chain) persist(block Block, sealedSequence int64) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(fmt.Sprintf(blockKeyPattern, block.Height)), data)
	batch.Put([]byte(fmt.Sprintf(hashKeyPattern, block.Hash)), data)
	batch.Put([]byte(keyLatestHeight), []byte(strconv.FormatUint(block.Height, 10)))
	batch.Put([]byte(keySealedSequence), []byte(strconv.FormatInt(sealedSequence, 10)))
	return c.db.Write(batch, nil)
}

func (c *Chain) loadSealedSequence() (int64, error) {
	raw, err := c.db.Get([]byte(keySealedSequence), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	sequence, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", keySealedSequence, err)
	}
	return sequence, nil
}

func (c *Chain) loadHead() (Block, bool, error) {
	raw, err := c.db.Get([]byte(keyLatestHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, err
	}
	height, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return Block{}, false, fmt.Errorf("parse %s: %w", keyLatestHeight, err)
	}
	block, found, err := c.get(fmt.Sprintf(blockKeyPattern, height))
	if err != nil {
		return Block{}, false, err
	}
	if !found {
		return Block{}, false, fmt.Errorf("head block %d is missing", height)
	}
	return block, true, nil
}

// BlockByHeight loads the block sealed at height.
func (c *Chain) BlockByHeight(height uint64) (Block, bool, error) {
	return c.get(fmt.Sprintf(blockKeyPattern, height))
}

// BlockByHash loads a block by its hex hash.
func (c *Chain) BlockByHash(hash string) (Block, bool, error) {
	return c.get(fmt.Sprintf(hashKeyPattern, common.HexToHash(hash).Hex()))
}

func (c *Chain) get(key string) (Block, bool, error) {
	data, err := c.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, err
	}
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return Block{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return block, true, nil
}

// Close releases the LevelDB handle.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
