package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/models"
)

const (
	MaxNotifications  = 100
	AutoDismissWindow = 10 * time.Minute
	sinkTimeout       = 30 * time.Second
)

// Sink receives every emitted notification. Delivery is fire-and-forget.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

// Center holds one user's notification list, newest first, and fans each
// new entry out to feed subscribers and sinks.
type Center struct {
	mu     sync.Mutex
	userID string
	items  []models.Notification
	feed   Fanout[models.Notification]
	sinks  []Sink
	store  kv.Store
	now    func() time.Time
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewCenter(userID string, store kv.Store, sinks ...Sink) *Center {
	return &Center{
		userID: userID,
		store:  store,
		sinks:  sinks,
		now:    time.Now,
		log:    logging.For("notify").With().Str("user", userID).Logger(),
	}
}

// Load restores the persisted list. A missing or corrupt entry leaves it empty.
func (c *Center) Load(ctx context.Context) {
	if c.store == nil {
		return
	}
	var items []models.Notification
	ok, err := kv.GetJSON(ctx, c.store, kv.NotificationsKey(c.userID), &items)
	if err != nil {
		c.log.Warn().Err(err).Msg("could not load notifications")
		return
	}
	if !ok {
		return
	}
	if len(items) > MaxNotifications {
		items = items[:MaxNotifications]
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
}

// Subscribe registers ch for every future notification. Emit never waits on
// ch; a full channel misses the entry, which stays available through List.
func (c *Center) Subscribe(ch chan<- models.Notification) event.Subscription {
	return c.feed.Subscribe(ch)
}

// Emit stamps n, stores it at the head of the list and fans it out.
func (c *Center) Emit(ctx context.Context, n models.Notification) models.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == 0 {
		n.Timestamp = c.now().UnixMilli()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}
	n.UserID = c.userID

	c.mu.Lock()
	c.items = append([]models.Notification{n}, c.items...)
	if len(c.items) > MaxNotifications {
		c.items = c.items[:MaxNotifications]
	}
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.log.Debug().Str("type", string(n.Type)).Str("title", n.Title).Msg("notification")
	c.feed.Send(n)

	for _, s := range c.sinks {
		c.wg.Add(1)
		go func(s Sink) {
			defer c.wg.Done()
			sctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := s.Deliver(sctx, n); err != nil {
				c.log.Warn().Err(err).Str("sink", s.Name()).Msg("notification delivery failed")
			}
		}(s)
	}
	return n
}

// List returns a copy of every stored notification, newest first.
func (c *Center) List() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Notification(nil), c.items...)
}

// Visible drops auto-dismissible entries older than the dismiss window and
// orders the rest by priority, newest first within a priority.
func (c *Center) Visible(now time.Time) []models.Notification {
	cutoff := now.Add(-AutoDismissWindow).UnixMilli()

	c.mu.Lock()
	out := make([]models.Notification, 0, len(c.items))
	for _, n := range c.items {
		if n.AutoDismiss && n.Timestamp < cutoff {
			continue
		}
		out = append(out, n)
	}
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out
}

// Dismiss removes a notification by id and reports whether it existed.
func (c *Center) Dismiss(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			c.persistLocked(ctx)
			return true
		}
	}
	return false
}

// Sweep permanently removes expired auto-dismiss entries.
func (c *Center) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-AutoDismissWindow).UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	removed := 0
	for _, n := range c.items {
		if n.AutoDismiss && n.Timestamp < cutoff {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	c.items = kept
	if removed > 0 {
		c.persistLocked(ctx)
	}
	return removed
}

func (c *Center) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.persistLocked(ctx)
}

// Flush waits for in-flight sink deliveries.
func (c *Center) Flush() {
	c.wg.Wait()
}

func (c *Center) persistLocked(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := kv.SetJSON(ctx, c.store, kv.NotificationsKey(c.userID), c.items, 0); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist notifications")
	}
}
