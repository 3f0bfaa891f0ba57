// Package catalogcache puts a Redis read-through cache in front of an event
// repository. Only single-event reads are cached; listings always hit the
// store.
package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/domain"
)

// Store is the repository being cached.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateEvent(ctx context.Context, event domain.Event) error
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	UpdateEvent(ctx context.Context, event domain.Event) error
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, organizerID string, after domain.EventCursor, limit int) ([]domain.Event, error)
}

type Repository struct {
	Store
	client redis.Cmdable
	ttl    time.Duration
	logger logrus.FieldLogger
}

func New(store Store, client redis.Cmdable, ttl time.Duration, logger logrus.FieldLogger) *Repository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Repository{
		Store:  store,
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "catalogcache"),
	}
}

func eventKey(id string) string {
	return "event:" + id
}

type txKey struct{}

// txState collects ids written inside a transaction so they can be evicted
// again once it commits.
type txState struct {
	mu    sync.Mutex
	dirty []string
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return r.Store.WithTx(ctx, fn)
	}
	state := &txState{}
	err := r.Store.WithTx(context.WithValue(ctx, txKey{}, state), fn)
	state.mu.Lock()
	dirty := state.dirty
	state.mu.Unlock()
	for _, id := range dirty {
		r.evict(context.WithoutCancel(ctx), id)
	}
	return err
}

// GetEvent serves from the cache outside transactions. Reads inside a
// transaction go to the store so row locks are taken.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if _, inTx := ctx.Value(txKey{}).(*txState); inTx {
		return r.Store.GetEvent(ctx, eventID)
	}

	raw, err := r.client.Get(ctx, eventKey(eventID)).Bytes()
	if err == nil {
		var event domain.Event
		if err := json.Unmarshal(raw, &event); err == nil {
			return event, nil
		}
		r.logger.WithField("event_id", eventID).Warn("discarding undecodable cache entry")
	} else if !errors.Is(err, redis.Nil) {
		r.logger.WithError(err).WithField("event_id", eventID).Warn("cache read failed")
	}

	event, err := r.Store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if data, err := json.Marshal(event); err == nil {
		if err := r.client.Set(ctx, eventKey(eventID), data, r.ttl).Err(); err != nil {
			r.logger.WithError(err).WithField("event_id", eventID).Warn("cache write failed")
		}
	}
	return event, nil
}

func (r *Repository) UpdateEvent(ctx context.Context, event domain.Event) error {
	if err := r.Store.UpdateEvent(ctx, event); err != nil {
		return err
	}
	r.markDirty(ctx, event.ID)
	return nil
}

func (r *Repository) DeleteEvent(ctx context.Context, eventID string) error {
	if err := r.Store.DeleteEvent(ctx, eventID); err != nil {
		return err
	}
	r.markDirty(ctx, eventID)
	return nil
}

func (r *Repository) markDirty(ctx context.Context, eventID string) {
	r.evict(ctx, eventID)
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.mu.Lock()
		state.dirty = append(state.dirty, eventID)
		state.mu.Unlock()
	}
}

func (r *Repository) evict(ctx context.Context, eventID string) {
	if err := r.client.Del(ctx, eventKey(eventID)).Err(); err != nil {
		r.logger.WithError(err).WithField("event_id", eventID).Warn("cache evict failed")
	}
}
