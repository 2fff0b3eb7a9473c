package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

var (
	// ErrCapacity is returned when opening a position would exceed the
	// concurrency cap.
	ErrCapacity = errors.New("executor: concurrency cap reached")
	// ErrFrozen is returned when a terminal position is mutated.
	ErrFrozen = errors.New("executor: position is terminal")
)

// Book is the position collection. Writes are serialized by its lock; reads
// return copies. Terminal positions beyond maxRecent are evicted oldest
// first; open positions are never evicted.
type Book struct {
	mu        sync.RWMutex
	byID      map[string]*domain.Position
	byOpp     map[string]string
	order     []string // oldest first
	open      int
	maxRecent int
}

// NewBook creates a Book retaining up to maxRecent terminal positions.
func NewBook(maxRecent int) *Book {
	if maxRecent < 1 {
		maxRecent = 1
	}
	return &Book{
		byID:      make(map[string]*domain.Position),
		byOpp:     make(map[string]string),
		maxRecent: maxRecent,
	}
}

// Open inserts a new non-terminal position. It fails if the opportunity
// already has a position or if limit positions are already open.
func (b *Book) Open(p domain.Position, limit int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[p.ID]; ok {
		return fmt.Errorf("executor: position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	if _, ok := b.byOpp[p.OpportunityID]; ok {
		return fmt.Errorf("executor: opportunity %s: %w", p.OpportunityID, domain.ErrAlreadyExists)
	}
	if limit > 0 && b.open >= limit {
		return ErrCapacity
	}

	cp := p
	b.byID[p.ID] = &cp
	b.byOpp[p.OpportunityID] = p.ID
	b.order = append(b.order, p.ID)
	b.open++
	return nil
}

// Advance applies fn to a non-terminal position that stays non-terminal.
func (b *Book) Advance(id string, fn func(*domain.Position)) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.mutableLocked(id)
	if err != nil {
		return domain.Position{}, err
	}
	next := *p
	fn(&next)
	if next.Status.Terminal() {
		return domain.Position{}, fmt.Errorf("executor: advance %s to %s: use Resolve", id, next.Status)
	}
	*p = next
	return next, nil
}

// Resolve applies fn, which must leave the position terminal, then calls
// commit with the frozen result while still holding the write lock so that
// observers never see the transition without its side effects.
func (b *Book) Resolve(id string, fn func(*domain.Position), commit func(domain.Position)) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.mutableLocked(id)
	if err != nil {
		return domain.Position{}, err
	}
	next := *p
	fn(&next)
	if !next.Status.Terminal() {
		return domain.Position{}, fmt.Errorf("executor: resolve %s: status %s is not terminal", id, next.Status)
	}
	*p = next
	b.open--
	if commit != nil {
		commit(next)
	}
	b.evictLocked()
	return next, nil
}

func (b *Book) mutableLocked(id string) (*domain.Position, error) {
	p, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("executor: position %s: %w", id, domain.ErrNotFound)
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("executor: position %s: %w", id, ErrFrozen)
	}
	return p, nil
}

func (b *Book) evictLocked() {
	excess := len(b.order) - b.open - b.maxRecent
	if excess <= 0 {
		return
	}
	kept := b.order[:0]
	for _, id := range b.order {
		p := b.byID[id]
		if excess > 0 && p.Status.Terminal() {
			delete(b.byID, id)
			delete(b.byOpp, p.OpportunityID)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
}

// Get returns the position with the given id.
func (b *Book) Get(id string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenCount is the number of non-terminal positions.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

// Recent returns up to n positions, newest first. n <= 0 returns all.
func (b *Book) Recent(n int) []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.order) {
		n = len(b.order)
	}
	out := make([]domain.Position, 0, n)
	for i := len(b.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *b.byID[b.order[i]])
	}
	return out
}
