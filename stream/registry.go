// Package stream keeps at most one live feed subscription per logical channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrRegistryClosed = errors.New("stream registry closed")
	ErrNilProducer    = errors.New("stream producer is nil")
)

// Event 一条推送；Key/Scope 由注册表在投递前填充。
type Event struct {
	Key     Key
	Scope   Scope
	Payload any
	Ts      time.Time
}

// Handler 事件回调。
type Handler func(Event)

// Teardown 停止推送并释放资源；返回时释放必须已经完成。
type Teardown func()

// Producer 由 feed 客户端提供：以 scope 建立推送，返回 teardown。
type Producer func(ctx context.Context, scope Scope, emit Handler) (Teardown, error)

// Subscription 注册表中一个活跃条目的只读视图。
type Subscription struct {
	ID        uuid.UUID
	Key       Key
	Scope     Scope
	CreatedAt time.Time
}

// Recorder 订阅统计，monitor 实现。
type Recorder interface {
	RecordSubscribe(key string, replaced bool)
	RecordCancel(key string)
	RecordStaleEvent(key string)
	RecordProducerError(key string)
	SetActiveSubscriptions(n int)
}

type entry struct {
	sub      Subscription
	active   atomic.Bool
	teardown Teardown
	once     sync.Once
}

// stop 先关闸再执行 teardown，teardown 只会执行一次。
func (e *entry) stop() {
	e.active.Store(false)
	e.once.Do(func() {
		if e.teardown != nil {
			e.teardown()
		}
	})
}

// Registry 进程级（按会话构造）订阅注册表。
// 同一 key 的 Subscribe/Cancel 串行执行，不同 key 互不阻塞。
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	locks   map[Key]*sync.Mutex
	closed  bool

	log *zap.Logger
	rec Recorder
}

// Option 配置 Registry。
type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.rec = rec }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[Key]*entry),
		locks:   make(map[Key]*sync.Mutex),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) keyLock(key Key) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[key] = lk
	}
	return lk
}

// detach 从表中移除条目并返回，调用方需持有 key 锁。
func (r *Registry) detach(key Key) (*entry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[key]
	delete(r.entries, key)
	return e, len(r.entries)
}

// Subscribe replaces any active subscription for key: the previous entry is
// torn down synchronously before producer is invoked. A producer error leaves
// the key idle and is returned to the caller unchanged in kind.
func (r *Registry) Subscribe(ctx context.Context, key Key, scope Scope, producer Producer, handler Handler) (Subscription, error) {
	if producer == nil {
		return Subscription{}, ErrNilProducer
	}
	if err := key.Accepts(scope); err != nil {
		return Subscription{}, err
	}

	lk := r.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Subscription{}, ErrRegistryClosed
	}

	prev, n := r.detach(key)
	if prev != nil {
		prev.stop()
		r.log.Info("stream replaced",
			zap.Stringer("key", key),
			zap.Stringer("old_id", prev.sub.ID),
			zap.Stringer("old_scope", prev.sub.Scope),
			zap.Stringer("new_scope", scope),
		)
		if r.rec != nil {
			r.rec.SetActiveSubscriptions(n)
		}
	}

	e := &entry{sub: Subscription{
		ID:        uuid.New(),
		Key:       key,
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	}}
	e.active.Store(true)
	emit := func(ev Event) {
		if !e.active.Load() {
			if r.rec != nil {
				r.rec.RecordStaleEvent(key.String())
			}
			return
		}
		ev.Key, ev.Scope = key, scope
		if ev.Ts.IsZero() {
			ev.Ts = time.Now().UTC()
		}
		if handler != nil {
			handler(ev)
		}
	}

	td, err := producer(ctx, scope, emit)
	if err != nil {
		e.active.Store(false)
		if r.rec != nil {
			r.rec.RecordProducerError(key.String())
		}
		r.log.Warn("stream producer failed", zap.Stringer("key", key), zap.Stringer("scope", scope), zap.Error(err))
		return Subscription{}, fmt.Errorf("subscribe %s: %w", key, err)
	}
	e.teardown = td

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		e.stop()
		return Subscription{}, ErrRegistryClosed
	}
	r.entries[key] = e
	n = len(r.entries)
	r.mu.Unlock()

	if r.rec != nil {
		r.rec.RecordSubscribe(key.String(), prev != nil)
		r.rec.SetActiveSubscriptions(n)
	}
	r.log.Info("stream subscribed",
		zap.Stringer("key", key),
		zap.Stringer("scope", scope),
		zap.Stringer("id", e.sub.ID),
	)
	return e.sub, nil
}

// Cancel tears down the subscription for key. It reports whether one was active;
// cancelling an idle key is a no-op.
func (r *Registry) Cancel(key Key) bool {
	lk := r.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	e, n := r.detach(key)
	if e == nil {
		return false
	}
	e.stop()
	if r.rec != nil {
		r.rec.RecordCancel(key.String())
		r.rec.SetActiveSubscriptions(n)
	}
	r.log.Info("stream cancelled", zap.Stringer("key", key), zap.Stringer("id", e.sub.ID))
	return true
}

// Active 返回 key 当前的订阅。
func (r *Registry) Active(key Key) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Subscription{}, false
	}
	return e.sub, true
}

// Len 活跃订阅数。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys 返回活跃 key，按字符串排序。
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close 会话结束：取消全部订阅，之后的 Subscribe 返回 ErrRegistryClosed。
// 逐个获取 key 锁，等待进行中的 Subscribe 完成。
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	keys := make([]Key, 0, len(r.locks))
	for k := range r.locks {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.Cancel(k)
	}
	r.log.Info("stream registry closed", zap.Int("keys", len(keys)))
}
