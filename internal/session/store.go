// Package session owns conversation state: per-id serialized checkout,
// persistence through a store.Repository, and TTL eviction.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/store"
)

// ErrStorage wraps every backend failure. Callers treat it as a
// configuration fault rather than a per-turn condition.
var ErrStorage = errors.New("session storage unavailable")

// DefaultTTL is the idle time after which a session is discarded.
const DefaultTTL = 30 * time.Minute

// Store serializes access to sessions by id and persists them through a
// Repository. Distinct ids never block each other.
type Store struct {
	repo   store.Repository
	ttl    time.Duration
	locks  *keyLocker
	now    func() time.Time
	logger *slog.Logger

	onEvict func(sessionID string)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for eviction and storage errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEvictCallback registers fn to run after a session is evicted.
func WithEvictCallback(fn func(sessionID string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// NewStore creates a Store over repo. A non-positive ttl selects DefaultTTL.
func NewStore(repo store.Repository, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		repo:   repo,
		ttl:    ttl,
		locks:  newKeyLocker(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured idle timeout.
func (s *Store) TTL() time.Duration { return s.ttl }

// Lease is an exclusive hold on one session id. The holder may mutate
// Session freely; Save persists it and Release lets the next turn proceed.
type Lease struct {
	Session *domain.Session

	store   *Store
	release func()
	once    sync.Once
}

// Save overwrites the stored session with the lease's working copy.
func (l *Lease) Save(ctx context.Context) error {
	return l.store.put(ctx, l.Session)
}

// Release unlocks the session id. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Checkout locks id and returns its session, creating an empty one if it is
// absent or has been idle longer than the TTL. The wait for the lock honours
// ctx; a cancelled wait is the only non-storage error.
func (s *Store) Checkout(ctx context.Context, id string) (*Lease, error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}

	sess, err := s.load(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	return &Lease{Session: sess, store: s, release: unlock}, nil
}

// Get returns a copy of the session for id, creating it if absent.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	lease, err := s.Checkout(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return lease.Session.Clone(), nil
}

// Save overwrites the stored session, serialized with other turns on the id.
func (s *Store) Save(ctx context.Context, sess *domain.Session) error {
	unlock, err := s.locks.lock(ctx, sess.ID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.put(ctx, sess)
}

// Lookup returns a read-only snapshot without creating anything. Expired
// sessions are reported as absent.
func (s *Store) Lookup(ctx context.Context, id string) (*domain.Session, bool, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrStorage, id, err)
	}
	if sess == nil || s.expired(sess) {
		return nil, false, nil
	}
	return sess, true, nil
}

// Delete discards the session for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, id, err)
	}
	return nil
}

// EvictExpired removes every session idle longer than the TTL and returns
// how many were removed. Sessions with a turn in flight are skipped and
// picked up by a later sweep.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	ids, err := s.repo.ListIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: list idle: %v", ErrStorage, err)
	}

	evicted := 0
	for _, id := range ids {
		unlock, ok := s.locks.tryLock(id)
		if !ok {
			s.logger.Debug("Session busy, skipping eviction", "session_id", id)
			continue
		}

		removed, err := s.evictLocked(ctx, id)
		unlock()
		if err != nil {
			return evicted, err
		}
		if removed {
			evicted++
			if s.onEvict != nil {
				s.onEvict(id)
			}
		}
	}
	return evicted, nil
}

func (s *Store) evictLocked(ctx context.Context, id string) (bool, error) {
	// Re-read under the lock: a turn may have landed since the listing.
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrStorage, id, err)
	}
	if sess == nil || !s.expired(sess) {
		return false, nil
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", ErrStorage, id, err)
	}
	return true, nil
}

func (s *Store) load(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStorage, id, err)
	}

	now := s.now()
	if sess != nil && s.expired(sess) {
		s.logger.Info("Session expired, starting fresh", "session_id", id, "idle", sess.IdleFor(now))
		if err := s.repo.DeleteSession(ctx, id); err != nil {
			return nil, fmt.Errorf("%w: delete %s: %v", ErrStorage, id, err)
		}
		if s.onEvict != nil {
			s.onEvict(id)
		}
		sess = nil
	}
	if sess == nil {
		sess = domain.NewSession(id, now)
	}
	return sess, nil
}

func (s *Store) put(ctx context.Context, sess *domain.Session) error {
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStorage, sess.ID, err)
	}
	return nil
}

func (s *Store) expired(sess *domain.Session) bool {
	return sess.IdleFor(s.now()) > s.ttl
}
