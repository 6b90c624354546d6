package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
)

const (
	RealtimeEventCommitted = "transaction-committed"
	RealtimeEventRejected  = "transaction-rejected"
	realtimeEventHeartbeat = "heartbeat"
	realtimeBufferSize     = 16
)

// RealtimeMessage is one event delivered to the identity that submitted the transaction.
type RealtimeMessage struct {
	Identity  platform.Identity
	EventType string
	Operation string
	Height    uint64
	TxHash    string
	ReceiptID string
	ErrorName string
	ErrorCode uint32
	Timestamp time.Time
}

// RealtimeDispatcher fans transaction outcomes out to per-identity subscribers. It implements
// platform.TransactionObserver.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[platform.Identity]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[platform.Identity]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for identity until ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, identity platform.Identity) (<-chan RealtimeMessage, func()) {
	if identity == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(identity, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(identity, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every stream of its identity. Slow subscribers drop messages.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Identity == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Identity]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) TransactionCommitted(receipt platform.Receipt) {
	d.Publish(RealtimeMessage{
		Identity:  platform.Identity(receipt.Caller),
		EventType: RealtimeEventCommitted,
		Operation: receipt.Operation,
		Height:    receipt.Height,
		TxHash:    receipt.TxHash,
		ReceiptID: receipt.ReceiptID,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) TransactionRejected(operation string, caller platform.Identity, err error) {
	message := RealtimeMessage{
		Identity:  caller,
		EventType: RealtimeEventRejected,
		Operation: operation,
		ErrorName: "transaction_failed",
		Timestamp: d.clock().UTC(),
	}
	if ledgerErr, ok := platform.AsLedgerError(err); ok {
		message.ErrorName = ledgerErr.Name()
		message.ErrorCode = uint32(ledgerErr.Code())
	}
	d.Publish(message)
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(identity platform.Identity, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[identity]; !ok {
		d.subscribers[identity] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[identity][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(identity platform.Identity, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[identity]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, identity)
		}
	}
	d.mu.Unlock()
}
