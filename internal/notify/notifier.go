// Package notify is the boundary to the external notification
// collaborator. The dispatcher hands offers off after the enclosing
// transaction commits; delivery itself is someone else's problem.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

type Offer struct {
	EntryID    string    `json:"entryId"`
	WorkItemID string    `json:"workItemId"`
	WorkerID   string    `json:"workerId"`
	Rank       int       `json:"rank"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type Notifier interface {
	OfferNotified(ctx context.Context, offer Offer) error
	QueueExhausted(ctx context.Context, workItemID string) error
}

// LogNotifier writes handoffs to the process log. Default backend for
// local runs.
type LogNotifier struct{}

func (LogNotifier) OfferNotified(_ context.Context, offer Offer) error {
	log.Printf("offer notified entry=%s work_item=%s worker=%s rank=%d expires=%s",
		offer.EntryID, offer.WorkItemID, offer.WorkerID, offer.Rank, offer.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (LogNotifier) QueueExhausted(_ context.Context, workItemID string) error {
	log.Printf("queue exhausted work_item=%s", workItemID)
	return nil
}

// MemoryNotifier captures handoffs for tests.
type MemoryNotifier struct {
	mu        sync.Mutex
	offers    []Offer
	exhausted []string
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) OfferNotified(_ context.Context, offer Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, offer)
	return nil
}

func (m *MemoryNotifier) QueueExhausted(_ context.Context, workItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted = append(m.exhausted, workItemID)
	return nil
}

func (m *MemoryNotifier) Offers() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, len(m.offers))
	copy(out, m.offers)
	return out
}

func (m *MemoryNotifier) Exhausted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.exhausted))
	copy(out, m.exhausted)
	return out
}
