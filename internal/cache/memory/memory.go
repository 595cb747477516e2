// Package memory provides single-process implementations of the cache
// interfaces for deployments without Redis (the embedded SQLite mode) and
// for tests. None of them coordinate across processes.
package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// LockManager is an in-process domain.LockManager with lock expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
	seq   uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

// SignalBus is an in-process domain.SignalBus. Subscribers whose buffer is
// full miss messages, as with Redis Pub/Sub.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	maxLen  int
	seq     int64
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus returns a bus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe accepts exact channel names and glob patterns like "pool:*".
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to stream with a monotonically increasing ID.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.seq),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	var after int64
	if lastID != "" && lastID != "0" && lastID != "0-0" {
		if _, err := fmt.Sscanf(lastID, "%d-0", &after); err != nil {
			return nil, fmt.Errorf("memory: stream read %s: bad id %q", stream, lastID)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		var id int64
		fmt.Sscanf(m.ID, "%d-0", &id)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// RateLimiter is a token-bucket domain.RateLimiter keyed per caller. The
// bucket for a key is sized from the first limit/window it is called with.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether one more request for key fits limit per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow(), nil
}

// ReportCache is a map-backed domain.ReportCache.
type ReportCache struct {
	mu      sync.RWMutex
	reports map[string]domain.SettlementReport
}

var _ domain.ReportCache = (*ReportCache)(nil)

// NewReportCache returns an empty ReportCache.
func NewReportCache() *ReportCache {
	return &ReportCache{reports: make(map[string]domain.SettlementReport)}
}

func (c *ReportCache) Set(_ context.Context, r domain.SettlementReport) error {
	c.mu.Lock()
	c.reports[r.EventID] = r
	c.mu.Unlock()
	return nil
}

func (c *ReportCache) Get(_ context.Context, eventID string) (domain.SettlementReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reports[eventID]
	if !ok {
		return domain.SettlementReport{}, domain.ErrNotFound
	}
	return r, nil
}
