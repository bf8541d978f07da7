// Package eventbus fans out scheduler, plan and log events to in-process
// listeners such as the app's event logger and the webhook notifier.
package eventbus

import (
	"sync"
	"time"
)

// Event is one published signal. Publish never blocks: each subscriber
// owns a buffered channel and misses events while it is full.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// PlanEvent is the payload of PlanCompleted.
type PlanEvent struct {
	PlanID string `json:"planId"`
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// TransactionEvent is the payload of TransactionFailed.
type TransactionEvent struct {
	PlanID        string `json:"planId"`
	TransactionID string `json:"transactionId,omitempty"`
	Date          string `json:"date"`
	Error         string `json:"error"`
}

// PlanCompletedEvent builds the event published when a plan leaves ACTIVE
// because its end date passed.
func PlanCompletedEvent(planID, symbol, reason string) Event {
	return Event{Type: PlanCompleted, Data: PlanEvent{PlanID: planID, Symbol: symbol, Reason: reason}}
}

// TransactionFailedEvent builds the event published after a FAILED audit
// row; txID is empty when the row itself could not be written.
func TransactionFailedEvent(planID, txID string, day time.Time, cause error) Event {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Event{Type: TransactionFailed, Data: TransactionEvent{
		PlanID:        planID,
		TransactionID: txID,
		Date:          day.Format(time.DateOnly),
		Error:         msg,
	}}
}

const defaultBuffer = 8

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

// Publish sends under the read lock, so an unsubscribe (which closes the
// channel under the write lock) can never race a send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop returns a bus that drops everything; components use it when built
// without one.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
