package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nightwatch/internal/ledger/metrics"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/requestcontext"
)

const defaultListLimit = 100
const maxListLimit = 1000

// Sink receives successfully appended entries for fan-out (Kafka, exports).
// Publish must not block: the ledger lock is held briefly around the append
// and implementations buffer internally.
type Sink interface {
	Publish(entry *Entry)
}

// HaltListener is notified when a failed verification halts a tenant's
// ledger. Wiring connects this to the alert service; the ledger itself stays
// dependency-free.
type HaltListener func(ctx context.Context, halt Halt)

// Service owns the per-tenant hash chains. The chain tail is the single
// serialization point per tenant: appends hold a per-tenant mutex across
// read-tail, hash, and insert. The store's uniqueness guard on (tenant,
// sequence) backstops multi-process deployments; a loser there surfaces as
// ConcurrentChainWrite.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    Sink
	onHalt  HaltListener
	tracer  trace.Tracer

	mu          sync.Mutex
	tenantLocks map[id.TenantID]*sync.Mutex
}

// Option configures the service.
type Option func(*Service)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSink attaches an entry fan-out sink.
func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithHaltListener attaches a halt notification callback.
func WithHaltListener(fn HaltListener) Option {
	return func(s *Service) { s.onHalt = fn }
}

// SetHaltListener attaches the halt callback after construction. The
// detector consumes the ledger and also listens for halts, so wiring has to
// close the loop once both exist. Call before serving traffic.
func (s *Service) SetHaltListener(fn HaltListener) {
	s.onHalt = fn
}

// NewService constructs the ledger service.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("nightwatch/internal/ledger"),
		tenantLocks: make(map[id.TenantID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) tenantLock(tenantID id.TenantID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenantLocks[tenantID] = lock
	}
	return lock
}

func (d Draft) validate() error {
	switch {
	case d.TenantID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	case d.ActorID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "actor_id is required")
	case d.Action == "":
		return dErrors.New(dErrors.CodeValidation, "action is required")
	case d.EntityType == "" || d.EntityID == "":
		return dErrors.New(dErrors.CodeValidation, "entity reference is required")
	}
	return nil
}

// Append assigns the next sequence number, computes the chain hash, and
// persists the entry. The store insert honors a transaction in ctx, so a
// caller running inside RunInTx gets the append and its own mutation
// committed or rolled back together.
func (s *Service) Append(ctx context.Context, draft Draft) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Append")
	defer span.End()

	if err := draft.validate(); err != nil {
		return nil, err
	}

	lock := s.tenantLock(draft.TenantID)
	lock.Lock()
	defer lock.Unlock()

	if halt, err := s.store.Halted(ctx, draft.TenantID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check chain halt")
	} else if halt != nil {
		return nil, dErrors.Newf(dErrors.CodeChainVerification,
			"ledger writes halted since verification broke at sequence %d; manual clearance required", halt.BrokenAtSeq)
	}

	tail, err := s.store.Tail(ctx, draft.TenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tail")
	}

	entry := &Entry{
		ID:             id.NewEntryID(),
		TenantID:       draft.TenantID,
		SequenceNumber: 1,
		// Truncated to microseconds so the timestamp survives a
		// TIMESTAMPTZ round-trip with the hash intact.
		At:             requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		ActorID:        draft.ActorID,
		ActorRole:      draft.ActorRole,
		ActorIP:        draft.ActorIP,
		ActorDevice:    draft.ActorDevice,
		Action:         draft.Action,
		EntityType:     draft.EntityType,
		EntityID:       draft.EntityID,
		PreviousValue:  draft.PreviousValue,
		NewValue:       draft.NewValue,
		PreviousHash:   GenesisHash,
	}
	if tail != nil {
		entry.SequenceNumber = tail.SequenceNumber + 1
		entry.PreviousHash = tail.EntryHash
	}
	entry.EntryHash = ComputeHash(entry)

	if err := s.store.Insert(ctx, entry); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementConflict()
			return nil, dErrors.Wrap(err, dErrors.CodeConcurrentWrite, "another writer advanced the chain tail")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist ledger entry")
	}

	s.metrics.IncrementAppend(string(entry.Action))
	if s.sink != nil {
		s.sink.Publish(entry)
	}
	return entry, nil
}

// VerifyChain recomputes every hash from fromSeq (0 or 1 means the genesis)
// onward and compares against stored values. A broken chain is escalated,
// never auto-corrected: the tenant is halted and the halt listener fires.
func (s *Service) VerifyChain(ctx context.Context, tenantID id.TenantID, fromSeq uint64) (VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyChain")
	defer span.End()

	if tenantID.IsNil() {
		return VerificationResult{}, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if fromSeq == 0 {
		fromSeq = 1
	}

	prevHash := GenesisHash
	if fromSeq > 1 {
		before, err := s.store.EntryBefore(ctx, tenantID, fromSeq)
		if err != nil {
			return VerificationResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain predecessor")
		}
		if before == nil {
			broken := fromSeq
			return s.recordBroken(ctx, tenantID, broken)
		}
		prevHash = before.EntryHash
	}

	entries, err := s.store.Range(ctx, tenantID, fromSeq, 0)
	if err != nil {
		return VerificationResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain entries")
	}

	result := VerifyEntries(entries, prevHash)
	if !result.Valid {
		return s.recordBroken(ctx, tenantID, *result.BrokenAtSeq)
	}
	s.metrics.IncrementVerification("valid")
	return result, nil
}

func (s *Service) recordBroken(ctx context.Context, tenantID id.TenantID, brokenAt uint64) (VerificationResult, error) {
	halt := Halt{
		TenantID:    tenantID,
		BrokenAtSeq: brokenAt,
		HaltedAt:    requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.SetHalt(ctx, halt); err != nil {
		// The verification verdict still stands; losing the halt record is
		// itself a critical condition.
		s.logger.ErrorContext(ctx, "failed to persist chain halt",
			"tenant_id", tenantID,
			"broken_at_seq", brokenAt,
			"error", err,
		)
	} else {
		s.metrics.AddHalted(1)
	}

	s.logger.ErrorContext(ctx, "chain verification failed; ledger writes halted",
		"tenant_id", tenantID,
		"broken_at_seq", brokenAt,
	)
	s.metrics.IncrementVerification("broken")

	if s.onHalt != nil {
		s.onHalt(ctx, halt)
	}
	return VerificationResult{Valid: false, BrokenAtSeq: &brokenAt}, nil
}

// ClearHalt lifts a halt after manual review and records the clearance as a
// ledger entry so the review itself is on the chain.
func (s *Service) ClearHalt(ctx context.Context, tenantID id.TenantID) (*Entry, error) {
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	halt, err := s.store.Halted(ctx, tenantID)
	if err != nil {
		lock.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check chain halt")
	}
	if halt == nil {
		lock.Unlock()
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "ledger is not halted")
	}
	if err := s.store.ClearHalt(ctx, tenantID, actorID); err != nil {
		lock.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear chain halt")
	}
	s.metrics.AddHalted(-1)
	lock.Unlock()

	s.logger.InfoContext(ctx, "chain halt cleared",
		"tenant_id", tenantID,
		"broken_at_seq", halt.BrokenAtSeq,
		"cleared_by", actorID,
	)

	return s.Append(ctx, Draft{
		TenantID:    tenantID,
		ActorID:     actorID,
		ActorRole:   requestcontext.ActorRole(ctx),
		ActorIP:     requestcontext.ClientIP(ctx),
		ActorDevice: requestcontext.ActorDevice(ctx),
		Action:      ActionChainHaltCleared,
		EntityType:  "ledger",
		EntityID:    tenantID.String(),
	})
}

// List returns entries matching the filter, capped and ordered by sequence.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	if filter.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger entries")
	}
	return entries, nil
}

// Range exposes a raw sequence range read for the detector's rescans and
// the exporter.
func (s *Service) Range(ctx context.Context, tenantID id.TenantID, fromSeq, toSeq uint64) ([]*Entry, error) {
	entries, err := s.store.Range(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain entries")
	}
	return entries, nil
}
