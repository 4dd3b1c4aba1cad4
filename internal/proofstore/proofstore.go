// Package proofstore tracks which payment-proof references have already
// been consumed, enforcing I3/P4: a given proof reference verifies at most
// once across the server's lifetime. The default backing is an in-process
// map (the spec makes no durability claim across restarts); a gorm-backed
// postgres implementation is wired for the open question at spec §9 about
// persisting the used-proof set.
package proofstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store is the contract the oracle depends on.
type Store interface {
	// Contains reports whether ref has already been recorded as used.
	Contains(ctx context.Context, ref string) (bool, error)
	// MarkUsed atomically records ref as used, returning true if it was
	// already present (i.e. the caller lost a race or is replaying).
	MarkUsed(ctx context.Context, ref string) (alreadyUsed bool, err error)
}

// memStore is the process-lifetime in-memory proof set. It is the default
// store and the one used in test mode.
type memStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemStore returns a fresh in-memory proof store.
func NewMemStore() Store {
	return &memStore{used: make(map[string]time.Time)}
}

func (s *memStore) Contains(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[ref]
	return ok, nil
}

func (s *memStore) MarkUsed(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[ref]; ok {
		return true, nil
	}
	s.used[ref] = time.Now().UTC()
	return false, nil
}

// UsedProof is the gorm model backing the durable variant of the store.
type UsedProof struct {
	Ref      string `gorm:"primaryKey;column:ref"`
	UsedAt   time.Time
}

func (UsedProof) TableName() string { return "used_proofs" }

// pgStore persists the used-proof set in postgres via gorm, so that replay
// protection survives a process restart (answering the durability open
// question for the proof set specifically, short of the full settlement
// outbox the spec defers as future work).
type pgStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPostgresStore opens a gorm connection to dsn and migrates the
// used_proofs table.
func NewPostgresStore(dsn string, log *zap.Logger) (Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&UsedProof{}); err != nil {
		return nil, err
	}
	return &pgStore{db: db, log: log}, nil
}

func (s *pgStore) Contains(ctx context.Context, ref string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UsedProof{}).Where("ref = ?", ref).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *pgStore) MarkUsed(ctx context.Context, ref string) (bool, error) {
	err := s.db.WithContext(ctx).Create(&UsedProof{Ref: ref, UsedAt: time.Now().UTC()}).Error
	if err == nil {
		return false, nil
	}
	// A unique-constraint violation on Ref means another caller already
	// recorded this proof first; that is a replay, not a failure.
	already, checkErr := s.Contains(ctx, ref)
	if checkErr != nil {
		return false, err
	}
	if already {
		return true, nil
	}
	return false, err
}
