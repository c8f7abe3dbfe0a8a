package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"sync"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/ws"
)

// chatPathPattern extracts the conversation id from a UI location such as
// "/chat/42" or "bookings/chat/42/details".
var chatPathPattern = regexp.MustCompile(`(?:^|/)chat/(\d+)(?:/|$)`)

// UnreadFetcher returns the absolute unread snapshot over REST.
type UnreadFetcher interface {
	FetchUnreadCounts(ctx context.Context) (models.UnreadSnapshot, error)
}

// NotificationChannel is the part of ws.Channel NotificationSync drives.
type NotificationChannel interface {
	Open(ctx context.Context, url string) error
	Close(code int, reason string)
}

// NotificationSync feeds the UnreadStore from the REST snapshot and the
// notification socket.
//
// The REST fetch and the socket may resolve in either order. Deltas that
// arrive before any snapshot are buffered (latest count per conversation)
// and applied right after the snapshot lands. The conversation the user is
// currently viewing never shows unread.
type NotificationSync struct {
	store    *UnreadStore
	fetcher  UnreadFetcher
	channel  NotificationChannel
	notifier ws.Notifier
	wsBase   string

	mu          sync.Mutex
	session     uint64
	viewing     int64
	pending     map[int64]int
	cancelFetch context.CancelFunc
	alive       bool
}

// NewNotificationSync wires the store to its two sources. The channel's
// OnMessage handler must call HandleEnvelope.
func NewNotificationSync(store *UnreadStore, fetcher UnreadFetcher, channel NotificationChannel, notifier ws.Notifier, wsBase string) *NotificationSync {
	return &NotificationSync{
		store:    store,
		fetcher:  fetcher,
		channel:  channel,
		notifier: notifier,
		wsBase:   wsBase,
		pending:  make(map[int64]int),
		alive:    true,
	}
}

// Start begins a sync session for identity: the store resets, the REST
// snapshot is fetched in the background and the notification channel opens.
// A nil identity stops syncing.
func (s *NotificationSync) Start(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		s.Stop()
		return nil
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	s.session++
	session := s.session
	s.pending = make(map[int64]int)
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.store.Reset()
	s.mu.Unlock()

	go s.loadSnapshot(fetchCtx, session)

	return s.channel.Open(ctx, ws.NotificationURL(s.wsBase, identity.Token))
}

// Stop closes the channel normally and resets the counters, e.g. on logout.
func (s *NotificationSync) Stop() {
	s.mu.Lock()
	s.session++
	s.pending = make(map[int64]int)
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.store.Reset()
	s.mu.Unlock()

	s.channel.Close(ws.CloseNormal, "logout")
}

// Close stops syncing for good.
func (s *NotificationSync) Close() {
	s.Stop()

	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// HandleEnvelope routes one notification socket message.
func (s *NotificationSync) HandleEnvelope(env ws.Envelope) {
	switch env.Type {
	case ws.TypeTotalUnreadUpdate:
		var msg ws.TotalUnreadUpdate
		if err := env.Decode(&msg); err != nil {
			log.Printf("[unread] %v", err)
			return
		}
		snap, err := snapshotFromWire(msg)
		if err != nil {
			log.Printf("[unread] %v", err)
			return
		}
		s.mu.Lock()
		s.applySnapshotLocked(snap)
		s.mu.Unlock()

	case ws.TypeUnreadCountUpdate:
		var msg ws.UnreadCountUpdate
		if err := env.Decode(&msg); err != nil {
			log.Printf("[unread] %v", err)
			return
		}
		s.applyDelta(msg.BookingID, msg.UnreadCount)

	case ws.TypeError:
		var msg ws.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			log.Printf("[unread] %v", err)
			return
		}
		s.notify(models.LevelError, "notify.serverError", map[string]string{"message": msg.Message})

	default:
		log.Printf("[unread] ignoring message type %q", env.Type)
	}
}

// MarkRead clears one conversation locally.
func (s *NotificationSync) MarkRead(conversationID int64) {
	s.mu.Lock()
	delete(s.pending, conversationID)
	s.store.Clear(conversationID)
	s.mu.Unlock()
}

// SetLocation records the UI's current location. Opening a chat clears that
// conversation and keeps it cleared until the user navigates away.
func (s *NotificationSync) SetLocation(path string) {
	id := ConversationFromPath(path)

	s.mu.Lock()
	s.viewing = id
	if id != 0 {
		delete(s.pending, id)
		s.store.Clear(id)
	}
	s.mu.Unlock()
}

// Viewing returns the conversation currently open in the UI, 0 for none.
func (s *NotificationSync) Viewing() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

// Snapshot returns the current counters.
func (s *NotificationSync) Snapshot() models.UnreadSnapshot {
	return s.store.Snapshot()
}

// Subscribe returns a channel receiving every counter change.
func (s *NotificationSync) Subscribe() (<-chan models.UnreadSnapshot, func()) {
	return s.store.Subscribe()
}

// ConversationFromPath returns the chat id in path, or 0.
func ConversationFromPath(path string) int64 {
	m := chatPathPattern.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ─── Internals ───

func (s *NotificationSync) loadSnapshot(ctx context.Context, session uint64) {
	snap, err := s.fetcher.FetchUnreadCounts(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive || session != s.session {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// the socket's total_unread_update can still initialize the store
		log.Printf("[unread] snapshot fetch failed: %v", err)
		if errors.Is(err, pkg.ErrUnauthorized) {
			s.notify(models.LevelError, "notify.authFailed", nil)
		}
		return
	}
	s.applySnapshotLocked(snap)
}

// applySnapshotLocked stores snap minus the viewed conversation, then
// replays buffered deltas.
func (s *NotificationSync) applySnapshotLocked(snap models.UnreadSnapshot) {
	if !s.alive {
		return
	}

	per := snap.PerConversation
	total := snap.TotalUnread
	if n, ok := per[s.viewing]; ok && s.viewing != 0 {
		per = snap.Clone().PerConversation
		delete(per, s.viewing)
		total -= n
	}
	s.store.ApplySnapshot(total, per)

	if len(s.pending) == 0 {
		return
	}
	for id, count := range s.pending {
		if s.viewing != 0 && id == s.viewing {
			continue
		}
		s.store.ApplyDelta(id, count)
	}
	log.Printf("[unread] replayed %d buffered update(s)", len(s.pending))
	s.pending = make(map[int64]int)
}

func (s *NotificationSync) applyDelta(conversationID int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return
	}
	switch {
	case s.viewing != 0 && conversationID == s.viewing:
		s.store.Clear(conversationID)
	case !s.store.Initialized():
		s.pending[conversationID] = count
	default:
		s.store.ApplyDelta(conversationID, count)
	}
}

func (s *NotificationSync) notify(level models.NotificationLevel, key string, params map[string]string) {
	if s.notifier != nil {
		s.notifier.Notify(level, key, params)
	}
}

func snapshotFromWire(msg ws.TotalUnreadUpdate) (models.UnreadSnapshot, error) {
	per := make(map[int64]int, len(msg.BookingCounts))
	for key, n := range msg.BookingCounts {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return models.UnreadSnapshot{}, fmt.Errorf("%w: conversation id %q", pkg.ErrParse, key)
		}
		per[id] = n
	}
	return models.UnreadSnapshot{TotalUnread: msg.TotalCount, PerConversation: per}, nil
}
