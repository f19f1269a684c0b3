package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/imagery-api/internal/domain"
	"github.com/phrazzld/imagery-api/internal/store"
)

// ModelStore is an in-memory store.ModelStore.
type ModelStore struct {
	mu     sync.Mutex
	models map[string]*domain.ModelConfig
	Err    error
}

var _ store.ModelStore = (*ModelStore)(nil)

// NewModelStore creates a ModelStore holding models.
func NewModelStore(models ...*domain.ModelConfig) *ModelStore {
	s := &ModelStore{models: make(map[string]*domain.ModelConfig)}
	for _, m := range models {
		s.Put(m)
	}
	return s
}

// Put adds or replaces a model.
func (s *ModelStore) Put(m *domain.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.models[m.ID] = &c
}

// GetByID implements store.ModelStore.
func (s *ModelStore) GetByID(_ context.Context, id string) (*domain.ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.models[id]
	if !ok {
		return nil, store.ErrModelNotFound
	}
	c := *m
	return &c, nil
}

// HistoryStore is an in-memory store.HistoryStore keyed by task.
type HistoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.HistoryRecord
	// CreateErr is returned by Create when set.
	CreateErr error
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{records: make(map[uuid.UUID]*domain.HistoryRecord)}
}

// Create implements store.HistoryStore.
func (s *HistoryStore) Create(_ context.Context, record *domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.records[record.TaskID]; ok {
		return store.ErrDuplicate
	}
	c := *record
	c.ResultURLs = append([]string(nil), record.ResultURLs...)
	s.records[record.TaskID] = &c
	return nil
}

// UpdateResult implements store.HistoryStore.
func (s *HistoryStore) UpdateResult(_ context.Context, taskID uuid.UUID, resultURLs []string, thumbnailURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[taskID]
	if !ok {
		return store.ErrHistoryNotFound
	}
	r.ResultURLs = append([]string(nil), resultURLs...)
	r.ThumbnailURL = thumbnailURL
	return nil
}

// Get returns a copy of the record for taskID, or nil.
func (s *HistoryStore) Get(taskID uuid.UUID) *domain.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[taskID]
	if !ok {
		return nil
	}
	c := *r
	c.ResultURLs = append([]string(nil), r.ResultURLs...)
	return &c
}

// Refund is one credited refund.
type Refund struct {
	UserID    uuid.UUID
	Amount    int64
	Reason    string
	Reference string
}

// PointsLedger is an in-memory store.PointsLedger with idempotent refunds.
type PointsLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	refunded map[string]bool
	refunds  []Refund

	// DeductErr and RefundErr are returned when set.
	DeductErr error
	RefundErr error
}

var _ store.PointsLedger = (*PointsLedger)(nil)

// NewPointsLedger creates an empty ledger.
func NewPointsLedger() *PointsLedger {
	return &PointsLedger{
		balances: make(map[uuid.UUID]int64),
		refunded: make(map[string]bool),
	}
}

// SetBalance sets a user's balance.
func (l *PointsLedger) SetBalance(userID uuid.UUID, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

// Balance returns a user's balance.
func (l *PointsLedger) Balance(userID uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Refunds returns every refund credited so far.
func (l *PointsLedger) Refunds() []Refund {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Refund(nil), l.refunds...)
}

// RefundCount returns how many refunds were credited for reference.
func (l *PointsLedger) RefundCount(reference string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.refunds {
		if r.Reference == reference {
			n++
		}
	}
	return n
}

// Deduct implements store.PointsLedger.
func (l *PointsLedger) Deduct(_ context.Context, userID uuid.UUID, amount int64, _ string, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.DeductErr != nil {
		return l.DeductErr
	}
	if l.balances[userID] < amount {
		return store.ErrInsufficientPoints
	}
	l.balances[userID] -= amount
	return nil
}

// Refund implements store.PointsLedger.
func (l *PointsLedger) Refund(_ context.Context, userID uuid.UUID, amount int64, reason string, reference string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.RefundErr != nil {
		return false, l.RefundErr
	}
	if l.refunded[reference] {
		return false, nil
	}
	l.refunded[reference] = true
	l.balances[userID] += amount
	l.refunds = append(l.refunds, Refund{UserID: userID, Amount: amount, Reason: reason, Reference: reference})
	return true, nil
}
