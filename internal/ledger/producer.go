package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingMiner    = errors.New("block miner is required")
	errInvalidInterval = errors.New("block interval must be positive")
)

// BlockMiner seals the next block.
type BlockMiner interface {
	MineBlock(now time.Time) (Block, error)
}

// Serializer runs fn while no ledger transaction is executing, so a transaction's height and
// the block that seals it always agree.
type Serializer interface {
	Exclusive(fn func() error) error
}

type pendingCounter interface {
	PendingCount() int
}

// ProducerConfig describes the block production loop.
type ProducerConfig struct {
	Miner      BlockMiner
	Serializer Serializer
	Interval   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
	OnBlock    func(Block)
}

// Producer mines one block per interval until its context ends.
type Producer struct {
	miner      BlockMiner
	serializer Serializer
	interval   time.Duration
	clock      func() time.Time
	logger     *zap.Logger
	onBlock    func(Block)
}

// NewProducer validates the configuration.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.Miner == nil {
		return nil, errMissingMiner
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		miner:      cfg.Miner,
		serializer: cfg.Serializer,
		interval:   cfg.Interval,
		clock:      clock,
		logger:     logger,
		onBlock:    cfg.OnBlock,
	}, nil
}

// Run blocks until ctx is done. A failed block is logged and retried on the next tick. When
// the miner still holds pending transactions on shutdown, a final block seals them.
func (p *Producer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info("block producer started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.sealRemaining()
			p.logger.Info("block producer stopped")
			return
		case <-ticker.C:
			if _, err := p.Seal(); err != nil {
				p.logger.Error("block production failed", zap.Error(err))
			}
		}
	}
}

// Seal mines the next block, inside the serializer's critical section when one is configured.
func (p *Producer) Seal() (Block, error) {
	var block Block
	mine := func() error {
		mined, err := p.miner.MineBlock(p.clock())
		if err != nil {
			return err
		}
		block = mined
		return nil
	}
	var err error
	if p.serializer != nil {
		err = p.serializer.Exclusive(mine)
	} else {
		err = mine()
	}
	if err != nil {
		return Block{}, err
	}
	if p.onBlock != nil {
		p.onBlock(block)
	}
	return block, nil
}

func (p *Producer) sealRemaining() {
	counter, ok := p.miner.(pendingCounter)
	if !ok || counter.PendingCount() == 0 {
		return
	}
	block, err := p.Seal()
	if err != nil {
		p.logger.Error("final block failed", zap.Error(err))
		return
	}
	p.logger.Info("final block sealed",
		zap.Uint64("height", block.Height),
		zap.Int("transactions", len(block.TxHashes)))
}
