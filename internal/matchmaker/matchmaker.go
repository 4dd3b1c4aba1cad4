// Package matchmaker maintains open-bet entries keyed by (gameType, stake,
// variant) and pairs them on accept. All mutation is serialised through a
// single logical critical section (a mutex guarding the queue map), exactly
// the "own API, own critical section" shared-resource policy the rest of
// the core's process-wide state follows. A Redis SET-NX lock additionally
// arbitrates accept races so the same atomicity guarantee holds if the
// matchmaker is ever split across processes.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/engine"
)

// ErrMissing is returned by Accept/Lookup when the entry is gone — already
// cancelled, or never existed (a matched entry reads as ErrBetTaken).
var ErrMissing = errors.New("missing")

// ErrBetTaken is returned by Accept when another session won the race for
// the same entry.
var ErrBetTaken = errors.New("bet-taken")

// ErrOwnBet is returned when a session tries to accept its own open entry.
var ErrOwnBet = errors.New("cannot-accept-own-bet")

// Key identifies a pool of interchangeable open bets.
type Key struct {
	GameType engine.GameType
	Stake    float64
	GridSize int // tic-tac-toe variant option; zero for every other game
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%.4f:%d", k.GameType, k.Stake, k.GridSize)
}

// Entry is one open bet sitting in the queue.
type Entry struct {
	ID          string
	Key         Key
	SessionID   string
	Account     string
	DisplayName string
	ProofRef    string
	CreatedAt   time.Time
}

// Matchmaker is the M component.
type Matchmaker struct {
	mu    sync.Mutex
	byID  map[string]*Entry
	byKey map[Key]*Entry // at most one open entry per key at a time
	// taken remembers entry ids consumed by a match so a raced-out
	// accepter sees bet-taken rather than missing (spec §4.2). Cancelled
	// entries are not recorded; those genuinely read as missing.
	taken map[string]struct{}
	redis *redis.Client // optional; nil disables the cross-process lock
	log   *zap.Logger
}

// New constructs a Matchmaker. rdb may be nil, in which case accept
// arbitration relies solely on the in-process mutex.
func New(rdb *redis.Client, log *zap.Logger) *Matchmaker {
	return &Matchmaker{
		byID:  make(map[string]*Entry),
		byKey: make(map[Key]*Entry),
		taken: make(map[string]struct{}),
		redis: rdb,
		log:   log,
	}
}

// Seek either matches the requester against an existing entry for key
// (returning matched=true and the pair ordered (other, requester)), or
// files a new entry and returns matched=false.
func (m *Matchmaker) Seek(sessionID, account, displayName, proofRef string, key Key) (other *Entry, mine *Entry, matched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A session holds at most one open entry; a re-seek replaces it.
	for id, entry := range m.byID {
		if entry.SessionID == sessionID {
			delete(m.byID, id)
			if m.byKey[entry.Key] == entry {
				delete(m.byKey, entry.Key)
			}
		}
	}

	if existing, ok := m.byKey[key]; ok && existing.SessionID != sessionID {
		delete(m.byKey, key)
		delete(m.byID, existing.ID)
		m.taken[existing.ID] = struct{}{}
		mine = &Entry{
			ID:          newEntryID(),
			Key:         key,
			SessionID:   sessionID,
			Account:     account,
			DisplayName: displayName,
			ProofRef:    proofRef,
			CreatedAt:   time.Now().UTC(),
		}
		return existing, mine, true
	}

	entry := &Entry{
		ID:          newEntryID(),
		Key:         key,
		SessionID:   sessionID,
		Account:     account,
		DisplayName: displayName,
		ProofRef:    proofRef,
		CreatedAt:   time.Now().UTC(),
	}
	m.byID[entry.ID] = entry
	m.byKey[key] = entry
	return nil, entry, false
}

// Lookup returns a copy of the open entry with id openID, so callers can
// inspect its stake before committing to an Accept. Returns ErrBetTaken if
// the entry was consumed by a match, ErrMissing if it never existed or was
// cancelled.
func (m *Matchmaker) Lookup(openID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[openID]
	if !ok {
		if _, was := m.taken[openID]; was {
			return Entry{}, ErrBetTaken
		}
		return Entry{}, ErrMissing
	}
	return *entry, nil
}

// Accept looks up openID and, if present and not owned by sessionID, removes
// it atomically and returns the opener's entry.
// A Redis SET-NX lock is attempted first (when configured) purely as a
// defense-in-depth arbitration layer; the authoritative decision is still
// made under the in-process mutex below.
func (m *Matchmaker) Accept(ctx context.Context, sessionID, openID string) (*Entry, error) {
	if m.redis != nil {
		lockKey := "matchmaker:accept-lock:" + openID
		ok, err := m.redis.SetNX(ctx, lockKey, sessionID, 5*time.Second).Result()
		if err != nil {
			m.log.Warn("redis accept lock unavailable, falling back to in-process arbitration", zap.Error(err))
		} else if !ok {
			return nil, ErrBetTaken
		}
		defer m.redis.Del(ctx, lockKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[openID]
	if !ok {
		if _, was := m.taken[openID]; was {
			return nil, ErrBetTaken
		}
		return nil, ErrMissing
	}
	if entry.SessionID == sessionID {
		return nil, ErrOwnBet
	}

	delete(m.byID, openID)
	if m.byKey[entry.Key] == entry {
		delete(m.byKey, entry.Key)
	}
	m.taken[openID] = struct{}{}
	return entry, nil
}

// Cancel removes the requester's own open entry, if any, so the caller can
// refund its proof.
func (m *Matchmaker) Cancel(sessionID string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, entry := range m.byID {
		if entry.SessionID == sessionID {
			delete(m.byID, id)
			if m.byKey[entry.Key] == entry {
				delete(m.byKey, entry.Key)
			}
			return entry
		}
	}
	return nil
}

// Snapshot returns every currently-open entry, for the lobby broadcast.
func (m *Matchmaker) Snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out
}

func newEntryID() string {
	return uuid.NewString()
}
