package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akinalp/groomnet/models"
)

type recordedNotification struct {
	level  models.NotificationLevel
	key    string
	params map[string]string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []recordedNotification
}

func (f *fakeNotifier) Notify(level models.NotificationLevel, key string, params map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, recordedNotification{level: level, key: key, params: params})
}

func (f *fakeNotifier) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.notes))
	for _, n := range f.notes {
		out = append(out, n.key)
	}
	return out
}

func (f *fakeNotifier) has(key string) bool {
	for _, k := range f.keys() {
		if k == key {
			return true
		}
	}
	return false
}

type postedAction struct {
	bookingID int64
	action    models.OfferAction
}

// fakeActions records posts. Accept posts block on acceptGate when it is set.
type fakeActions struct {
	mu         sync.Mutex
	calls      []postedAction
	errs       map[models.OfferAction]error
	acceptGate chan struct{}
	entered    chan struct{}
}

func newFakeActions() *fakeActions {
	return &fakeActions{errs: make(map[models.OfferAction]error), entered: make(chan struct{}, 8)}
}

func (f *fakeActions) PostBarberAction(ctx context.Context, bookingID int64, action models.OfferAction) error {
	f.mu.Lock()
	f.calls = append(f.calls, postedAction{bookingID: bookingID, action: action})
	gate := f.acceptGate
	err := f.errs[action]
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}
	if action == models.OfferActionAccept && gate != nil {
		<-gate
	}
	return err
}

func (f *fakeActions) count(action models.OfferAction) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.action == action {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []models.OfferHistoryEntry
}

func (f *fakeRecorder) Record(ctx context.Context, entry *models.OfferHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeRecorder) outcomes() []models.OfferOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.OfferOutcome, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collect drains ch in the background and returns a snapshot getter.
func collect[T any](ch <-chan T) func() []T {
	var mu sync.Mutex
	var got []T
	go func() {
		for v := range ch {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	}()
	return func() []T {
		mu.Lock()
		defer mu.Unlock()
		return append([]T(nil), got...)
	}
}
