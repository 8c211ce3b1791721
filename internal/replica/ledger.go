package replica

import (
	"log/slog"
	"sync"

	"kindred/internal/observability"

	"github.com/google/uuid"
)

// MutationState tracks the lifecycle of an optimistic mutation.
type MutationState int

// Mutation lifecycle states. Every mutation ends Confirmed or RolledBack;
// there is no state in which the optimistic and confirmed values may
// diverge indefinitely.
const (
	StatePending MutationState = iota
	StateConfirmed
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Mutation is one in-flight optimistic update: the forward delta already
// applied locally and the inverse delta that undoes it.
type Mutation struct {
	ID       string
	EntityID string
	state    MutationState
	forward  Delta
	inverse  Delta
}

// State returns the mutation's current lifecycle state.
func (m *Mutation) State() MutationState { return m.state }

// Ledger applies optimistic updates to the replica set and resolves each of
// them to exactly one of Confirmed or RolledBack when the remote call
// settles.
type Ledger struct {
	mu      sync.Mutex
	set     *Set
	pending map[string]*Mutation
	log     *slog.Logger
}

// NewLedger creates a ledger over the given replica set.
func NewLedger(set *Set, log *slog.Logger) *Ledger {
	if log == nil {
		log = observability.Logger
	}
	return &Ledger{set: set, pending: make(map[string]*Mutation), log: log}
}

// Begin applies the forward delta optimistically to every view holding the
// entity and registers the inverse for a possible rollback. The forward
// application is forced: it is provisional local state with no
// authoritative version yet.
func (l *Ledger) Begin(forward, inverse Delta) *Mutation {
	forward.Force = true
	m := &Mutation{
		ID:       uuid.NewString(),
		EntityID: forward.EntityID,
		state:    StatePending,
		forward:  forward,
		inverse:  inverse,
	}

	l.mu.Lock()
	l.pending[m.ID] = m
	l.mu.Unlock()

	l.set.Apply(forward)
	return m
}

// Confirm resolves the mutation with the authoritative result from the
// store. The authoritative delta (typically a replace carrying the committed
// entity and version) overwrites the optimistic guess rather than merging
// with it.
func (l *Ledger) Confirm(m *Mutation, authoritative Delta) {
	if !l.settle(m, StateConfirmed) {
		return
	}
	l.set.Apply(authoritative)
}

// ConfirmRemoval resolves a mutation whose confirmed outcome is the entity
// disappearing; the caller has already removed it from the views.
func (l *Ledger) ConfirmRemoval(m *Mutation) {
	l.settle(m, StateConfirmed)
}

// Rollback undoes the optimistic update after a remote failure, restoring
// every view to the pre-mutation value.
func (l *Ledger) Rollback(m *Mutation) {
	if !l.settle(m, StateRolledBack) {
		return
	}
	inverse := m.inverse
	inverse.Force = true
	l.set.Apply(inverse)
}

// settle transitions the mutation out of Pending exactly once.
func (l *Ledger) settle(m *Mutation, to MutationState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.state != StatePending {
		l.log.Error("mutation settled twice",
			slog.String("mutation_id", m.ID),
			slog.String("entity_id", m.EntityID),
			slog.String("state", m.state.String()),
			slog.String("attempted", to.String()),
		)
		return false
	}
	m.state = to
	delete(l.pending, m.ID)
	return true
}

// PendingCount returns the number of unresolved optimistic mutations.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
