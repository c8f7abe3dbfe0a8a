package services

import (
	"log"
	"sync"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg/eventbus"
)

// UnreadStore holds the total and per-conversation unread counters.
//
// Every update runs under one lock and publishes a deep copy, so readers and
// subscribers never see a total that disagrees with the map mid-update.
// Counts are clamped at zero.
type UnreadStore struct {
	mu          sync.RWMutex
	total       int
	per         map[int64]int
	initialized bool

	bus *eventbus.Bus[models.UnreadSnapshot]
}

// NewUnreadStore creates an empty, uninitialized store.
func NewUnreadStore() *UnreadStore {
	return &UnreadStore{
		per: make(map[int64]int),
		bus: eventbus.New[models.UnreadSnapshot](),
	}
}

// ApplySnapshot replaces the state wholesale and marks the store initialized.
// Entries are kept as given, zero counts included; negatives clamp to zero.
func (s *UnreadStore) ApplySnapshot(total int, perConversation map[int64]int) {
	per := make(map[int64]int, len(perConversation))
	for id, n := range perConversation {
		per[id] = max(0, n)
	}

	s.mu.Lock()
	s.total = max(0, total)
	s.per = per
	s.initialized = true
	s.publishLocked()
	s.mu.Unlock()
}

// ApplyDelta sets the absolute count of one conversation and moves the total
// by the difference. A zero count removes the entry.
func (s *UnreadStore) ApplyDelta(conversationID int64, newCount int) {
	newCount = max(0, newCount)

	s.mu.Lock()
	oldCount := s.per[conversationID]
	if newCount == 0 {
		delete(s.per, conversationID)
	} else {
		s.per[conversationID] = newCount
	}
	s.total = max(0, s.total-oldCount+newCount)
	s.publishLocked()
	s.mu.Unlock()
}

// Clear removes one conversation and subtracts its count from the total.
func (s *UnreadStore) Clear(conversationID int64) {
	s.mu.Lock()
	oldCount, ok := s.per[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.per, conversationID)
	s.total = max(0, s.total-oldCount)
	s.publishLocked()
	s.mu.Unlock()

	log.Printf("[unread] conversation %d cleared (%d)", conversationID, oldCount)
}

// Reset returns to {0, {}} and uninitialized, e.g. on logout.
func (s *UnreadStore) Reset() {
	s.mu.Lock()
	s.total = 0
	s.per = make(map[int64]int)
	s.initialized = false
	s.publishLocked()
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *UnreadStore) Snapshot() models.UnreadSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Initialized reports whether a snapshot has been applied since the last Reset.
func (s *UnreadStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Subscribe returns a channel receiving every new state.
func (s *UnreadStore) Subscribe() (<-chan models.UnreadSnapshot, func()) {
	return s.bus.Subscribe()
}

// publishLocked runs under s.mu so subscribers see states in update order.
func (s *UnreadStore) publishLocked() {
	s.bus.Publish(s.snapshotLocked())
}

func (s *UnreadStore) snapshotLocked() models.UnreadSnapshot {
	return models.UnreadSnapshot{TotalUnread: s.total, PerConversation: s.per}.Clone()
}
