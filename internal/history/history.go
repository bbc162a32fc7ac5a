// Package history keeps one chat session consistent across two replicas: an
// always-available local cache and a best-effort remote store. Neither replica
// is authoritative; reconciliation on load follows a deterministic
// longer-replica-wins policy, and writes are debounced and fingerprint-gated
// so rapid turns collapse into one remote write and identical payloads are
// never re-sent.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coursepilot/assistant/internal/conversation"
)

// Sentinel errors for store operations.
var (
	// ErrIdentityMismatch indicates an append for an identity that is not the
	// one currently loaded.
	ErrIdentityMismatch = errors.New("identity does not match loaded session")

	// ErrNoIdentity indicates an operation before any Load.
	ErrNoIdentity = errors.New("no session loaded")
)

// DefaultDebounce is the quiet period collapsing successive appends into one
// remote write.
const DefaultDebounce = 800 * time.Millisecond

// syncTimeout bounds a single remote push.
const syncTimeout = 30 * time.Second

// Cache is the local persistence port. Implementations must be safe for
// concurrent use. Get returns ok=false when no replica exists for identity.
type Cache interface {
	Get(identity string) (data []byte, ok bool, err error)
	Set(identity string, data []byte) error
	Remove(identity string) error
}

// Remote is the remote replica port, satisfied by the backend client.
type Remote interface {
	FetchHistory(ctx context.Context, identity string) ([]conversation.Message, error)
	PushHistory(ctx context.Context, identity string, msgs []conversation.Message) error
}

// Store is the dual-tier chat history store for one active identity at a
// time. Switching identity via Load fully resets in-memory state; async
// completions carrying a stale generation are discarded, so one principal's
// messages can never leak into another's view, even transiently.
type Store struct {
	cache    Cache
	remote   Remote // nil disables the remote tier
	logger   *slog.Logger
	debounce time.Duration

	mu              sync.Mutex
	identity        string
	generation      uint64
	messages        []conversation.Message
	syncFingerprint string // fingerprint of the last successfully pushed set
	timer           *time.Timer
	wg              sync.WaitGroup
}

// Config assembles a Store.
type Config struct {
	Cache    Cache
	Remote   Remote        // optional
	Logger   *slog.Logger  // nil = slog.Default()
	Debounce time.Duration // <=0 = DefaultDebounce
}

// New creates a Store. Cache is required.
func New(cfg Config) (*Store, error) {
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Store{
		cache:    cfg.Cache,
		remote:   cfg.Remote,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
	}, nil
}

// Load activates identity and returns its reconciled message list.
//
// The local replica is read first and always yields a usable session: a
// missing or corrupt cache entry degrades to the default welcome message,
// never to an error. The remote replica is then fetched and reconciled:
//
//   - remote wins when it is non-empty and at least as long as local, or when
//     local holds only the welcome message; the winner is written back to the
//     local cache
//   - otherwise local wins and a push to the remote store is scheduled
//
// A remote fetch completing after a newer Load is discarded.
func (s *Store) Load(ctx context.Context, identity string) ([]conversation.Message, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.identity = identity
	s.syncFingerprint = ""
	s.stopTimerLocked()
	local := s.readLocal(identity)
	s.messages = local
	s.mu.Unlock()

	if s.remote == nil {
		return copyMessages(local), nil
	}

	remoteMsgs, err := s.remote.FetchHistory(ctx, identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Identity changed while the fetch was in flight; the result belongs
		// to a dead session.
		s.logger.Debug("discarding stale history fetch", "identity", identity)
		return copyMessages(local), nil
	}

	if err != nil {
		// Sync errors never block: local replica stays the source of truth.
		s.logger.Debug("remote history fetch failed", "identity", identity, "error", err)
		return copyMessages(s.messages), nil
	}

	remoteMsgs = conversation.Normalize(remoteMsgs)
	if remoteWins(local, remoteMsgs) {
		s.messages = remoteMsgs
		s.syncFingerprint = Fingerprint(remoteMsgs)
		s.persistLocalLocked()
	} else {
		s.messages = local
		if len(local) > len(remoteMsgs) {
			s.scheduleSyncLocked()
		}
	}
	return copyMessages(s.messages), nil
}

// remoteWins applies the reconciliation precedence rule.
func remoteWins(local, remote []conversation.Message) bool {
	if len(remote) == 0 {
		return false
	}
	return len(remote) >= len(local) || conversation.IsWelcomeOnly(local)
}

// Append adds one message to the active session, persists the local replica,
// and schedules a debounced remote sync. The returned slice is the full
// normalized message list.
func (s *Store) Append(identity string, msg conversation.Message) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == "" {
		return nil, ErrNoIdentity
	}
	if identity != s.identity {
		return nil, ErrIdentityMismatch
	}

	s.messages = conversation.Normalize(append(s.messages, msg))
	s.persistLocalLocked()
	s.scheduleSyncLocked()
	return copyMessages(s.messages), nil
}

// Messages returns a copy of the in-memory session.
func (s *Store) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.messages)
}

// Identity returns the currently loaded principal, empty before any Load.
func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Clear resets the active session to the welcome message on both replicas.
func (s *Store) Clear() ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == "" {
		return nil, ErrNoIdentity
	}
	s.messages = []conversation.Message{conversation.Welcome()}
	s.persistLocalLocked()
	s.scheduleSyncLocked()
	return copyMessages(s.messages), nil
}

// Flush pushes the session to the remote store immediately, bypassing the
// debounce window. Intended for shutdown paths.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.identity == "" {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	gen := s.generation
	s.mu.Unlock()
	return s.sync(ctx, gen)
}

// Close cancels any pending sync and waits for in-flight ones.
func (s *Store) Close() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// readLocal loads and normalizes the local replica, degrading to the welcome
// message when the entry is missing, unreadable, or corrupt.
func (s *Store) readLocal(identity string) []conversation.Message {
	data, ok, err := s.cache.Get(identity)
	if err != nil {
		s.logger.Warn("reading local history cache", "identity", identity, "error", err)
		return []conversation.Message{conversation.Welcome()}
	}
	if !ok {
		return []conversation.Message{conversation.Welcome()}
	}

	var msgs []conversation.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Corrupt JSON must not crash load.
		s.logger.Warn("local history cache corrupt, resetting", "identity", identity, "error", err)
		return []conversation.Message{conversation.Welcome()}
	}
	msgs = conversation.Normalize(msgs)
	if len(msgs) == 0 {
		return []conversation.Message{conversation.Welcome()}
	}
	return msgs
}

// persistLocalLocked writes the in-memory session to the local cache.
// Caller holds s.mu.
func (s *Store) persistLocalLocked() {
	data, err := json.Marshal(s.messages)
	if err != nil {
		s.logger.Error("encoding local history", "identity", s.identity, "error", err)
		return
	}
	if err := s.cache.Set(s.identity, data); err != nil {
		s.logger.Warn("writing local history cache", "identity", s.identity, "error", err)
	}
}

// scheduleSyncLocked (re-)arms the debounce timer. Caller holds s.mu.
func (s *Store) scheduleSyncLocked() {
	if s.remote == nil {
		return
	}
	s.stopTimerLocked()
	gen := s.generation
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := s.sync(ctx, gen); err != nil {
			s.logger.Debug("debounced history sync failed", "error", err)
		}
	})
}

// stopTimerLocked cancels a pending debounce timer, balancing the WaitGroup
// when the callback will never run. Caller holds s.mu.
func (s *Store) stopTimerLocked() {
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
}

// sync pushes the session to the remote store if gen is still current and the
// content fingerprint changed since the last successful push. Failures are
// swallowed by callers: the local replica remains valid and the next
// successful operation retries.
func (s *Store) sync(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.remote == nil || s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	identity := s.identity
	msgs := copyMessages(s.messages)
	fp := Fingerprint(msgs)
	if fp == s.syncFingerprint {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.remote.PushHistory(ctx, identity, msgs); err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.syncFingerprint = fp
	}
	s.mu.Unlock()
	return nil
}

// Fingerprint hashes a normalized message set. Equal fingerprints gate
// redundant remote writes.
func Fingerprint(msgs []conversation.Message) string {
	data, err := json.Marshal(conversation.Normalize(msgs))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func copyMessages(msgs []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, len(msgs))
	copy(out, msgs)
	return out
}
