package polling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
)

const (
	// AcknowledgeJobID identifies deferred acknowledge jobs on the job queue.
	AcknowledgeJobID          = "sessionsync.notification.acknowledge"
	ParamNotificationID       = "notification_id"
	notificationsEngineName   = "notifications"
	acknowledgeIdempotencyTag = "notification-ack:"
)

type NotificationGateway interface {
	core.UserResolver
	core.NotificationReader
	core.NotificationAcknowledger
}

type NotificationSyncConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Ticker   core.TickerFunc
	Observer *core.Observer
	// Enqueuer, when set, defers the remote acknowledge to a job queue.
	Enqueuer core.JobEnqueuer
}

// NotificationSync mirrors the unread notifications of the signed-in user.
// Acknowledged ids are removed at once and tombstoned until Reset so a poll
// already in flight cannot bring them back.
type NotificationSync struct {
	gateway  NotificationGateway
	enqueuer core.JobEnqueuer
	timeout  time.Duration
	observer *core.Observer
	engine   *Engine[[]core.Notification]

	mu         sync.Mutex
	key        string
	items      map[string]core.Notification
	tombstones map[string]struct{}
	nextHandle uint64
	listeners  map[uint64]func(ctx context.Context)
}

func NewNotificationSync(gateway NotificationGateway, cfg NotificationSyncConfig) (*NotificationSync, error) {
	if gateway == nil {
		return nil, core.InternalError("polling: notification gateway is required")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = core.NewObserver("", nil, nil)
	}
	s := &NotificationSync{
		gateway:    gateway,
		enqueuer:   cfg.Enqueuer,
		timeout:    cfg.Timeout,
		observer:   observer,
		items:      map[string]core.Notification{},
		tombstones: map[string]struct{}{},
		listeners:  map[uint64]func(ctx context.Context){},
	}
	engine, err := NewEngine(EngineConfig[[]core.Notification]{
		Name:       notificationsEngineName,
		Fetch:      s.fetch,
		Merge:      s.merge,
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		Ticker:     cfg.Ticker,
		Observer:   observer,
		AfterMerge: func(ctx context.Context, _ string) { s.emit(ctx) },
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// Start begins polling for the user identified by key. Switching to a new key
// drops the cached items of the previous one.
func (s *NotificationSync) Start(ctx context.Context, key string) {
	key = core.NormalizeEmail(key)
	s.mu.Lock()
	switched := s.key != key
	if switched {
		s.clearLocked()
	}
	s.key = key
	s.mu.Unlock()
	if switched {
		s.emit(ctx)
	}
	s.engine.Start(ctx, key)
}

func (s *NotificationSync) Stop() {
	s.engine.Stop()
}

// Reset clears the cache and the tombstones. Call it after Stop when the
// session ends.
func (s *NotificationSync) Reset(ctx context.Context) {
	s.mu.Lock()
	s.clearLocked()
	s.key = ""
	s.mu.Unlock()
	s.emit(ctx)
}

func (s *NotificationSync) Refresh(ctx context.Context) bool {
	return s.engine.Refresh(ctx)
}

// Resync polls again once any in-flight poll has returned.
func (s *NotificationSync) Resync(ctx context.Context) bool {
	return s.engine.Resync(ctx)
}

func (s *NotificationSync) Running() bool {
	return s.engine.Running()
}

// Wait blocks until fetches started so far have returned.
func (s *NotificationSync) Wait() {
	s.engine.Wait()
}

// Unread returns the cached unread notifications, newest first.
func (s *NotificationSync) Unread() []core.Notification {
	s.mu.Lock()
	out := make([]core.Notification, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *NotificationSync) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// OnChange registers a callback fired after the cache changed. Callbacks
// should read state through Unread.
func (s *NotificationSync) OnChange(fn func(ctx context.Context)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextHandle++
	handle := s.nextHandle
	s.listeners[handle] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, handle)
		s.mu.Unlock()
	}
}

// Acknowledge removes id from the unread cache synchronously, then asks the
// remote side to mark it read. A remote failure is returned but the removal
// is never rolled back. Unknown ids are a no-op.
func (s *NotificationSync) Acknowledge(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BadInputError("polling: notification id is required")
	}

	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.items, id)
	s.tombstones[id] = struct{}{}
	s.mu.Unlock()
	s.emit(ctx)

	startedAt := time.Now().UTC()
	err := s.acknowledgeRemote(core.Detach(ctx), id)
	if err != nil {
		err = core.AcknowledgeError(err, id)
	}
	s.observer.ObserveOperation(ctx, startedAt, "notification_acknowledge", err, map[string]any{
		"engine":          notificationsEngineName,
		"notification_id": id,
		"deferred":        s.enqueuer != nil,
	})
	return err
}

func (s *NotificationSync) acknowledgeRemote(ctx context.Context, id string) error {
	if s.enqueuer != nil {
		return s.enqueuer.Enqueue(ctx, AcknowledgeJobMessage(id))
	}
	return core.RunWithTimeout(ctx, s.timeout, func(ctx context.Context) error {
		return s.gateway.AcknowledgeNotification(ctx, id)
	})
}

// AcknowledgeJobMessage builds the queue message for a deferred acknowledge.
func AcknowledgeJobMessage(id string) *core.JobExecutionMessage {
	id = strings.TrimSpace(id)
	return &core.JobExecutionMessage{
		JobID:          AcknowledgeJobID,
		Parameters:     map[string]any{ParamNotificationID: id},
		IdempotencyKey: acknowledgeIdempotencyTag + id,
	}
}

func (s *NotificationSync) fetch(ctx context.Context, key string) ([]core.Notification, error) {
	userID, err := s.gateway.ResolveUserIDByEmail(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.gateway.FetchUnreadNotifications(ctx, userID)
}

func (s *NotificationSync) merge(key string, fetched []core.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		return
	}
	next := make(map[string]core.Notification, len(fetched))
	for _, item := range fetched {
		id := strings.TrimSpace(item.ID)
		if id == "" || item.Read {
			continue
		}
		if _, gone := s.tombstones[id]; gone {
			continue
		}
		item.ID = id
		next[id] = item
	}
	s.items = next
}

func (s *NotificationSync) clearLocked() {
	s.items = map[string]core.Notification{}
	s.tombstones = map[string]struct{}{}
}

func (s *NotificationSync) emit(ctx context.Context) {
	s.mu.Lock()
	handles := make([]uint64, 0, len(s.listeners))
	for handle := range s.listeners {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	listeners := make([]func(ctx context.Context), 0, len(handles))
	for _, handle := range handles {
		listeners = append(listeners, s.listeners[handle])
	}
	s.mu.Unlock()
	for _, listener := range listeners {
		listener(ctx)
	}
}
