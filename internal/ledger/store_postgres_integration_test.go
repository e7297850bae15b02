//go:build integration

package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"nightwatch/internal/ledger"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/sentinel"
	"nightwatch/pkg/requestcontext"
	"nightwatch/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledger.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = ledger.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_entries", "chain_halts")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newEntry(tenantID id.TenantID, seq uint64, prevHash string) *ledger.Entry {
	e := &ledger.Entry{
		ID:             id.NewEntryID(),
		TenantID:       tenantID,
		SequenceNumber: seq,
		At:             time.Now().UTC().Truncate(time.Microsecond),
		ActorID:        id.StaffID(uuid.New()),
		ActorRole:      id.RoleManager,
		Action:         ledger.ActionOverride,
		EntityType:     "vip_session",
		EntityID:       uuid.NewString(),
		PreviousHash:   prevHash,
	}
	e.EntryHash = ledger.ComputeHash(e)
	return e
}

func (s *PostgresStoreSuite) TestInsertAndTail() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	tail, err := s.store.Tail(ctx, tenantID)
	s.Require().NoError(err)
	s.Nil(tail)

	first := s.newEntry(tenantID, 1, ledger.GenesisHash)
	s.Require().NoError(s.store.Insert(ctx, first))

	second := s.newEntry(tenantID, 2, first.EntryHash)
	s.Require().NoError(s.store.Insert(ctx, second))

	tail, err = s.store.Tail(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(uint64(2), tail.SequenceNumber)
	s.Equal(first.EntryHash, tail.PreviousHash)

	// Postgres round-trip must not disturb the canonical encoding.
	s.Equal(tail.EntryHash, ledger.ComputeHash(tail))
}

func (s *PostgresStoreSuite) TestSequenceUniquenessGuard() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Insert(ctx, s.newEntry(tenantID, 1, ledger.GenesisHash)))

	err := s.store.Insert(ctx, s.newEntry(tenantID, 1, ledger.GenesisHash))
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

// Full-service appends from concurrent goroutines against the real store:
// winners form a gap-free verified chain.
func (s *PostgresStoreSuite) TestConcurrentAppendsStayChained() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	svcA := ledger.NewService(s.store, slog.New(slog.DiscardHandler))
	svcB := ledger.NewService(s.store, slog.New(slog.DiscardHandler))

	const perWriter = 20
	var wg sync.WaitGroup
	var conflicts atomic.Int32
	for _, svc := range []*ledger.Service{svcA, svcB} {
		wg.Add(1)
		go func(svc *ledger.Service) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := svc.Append(ctx, ledger.Draft{
					TenantID:   tenantID,
					ActorID:    id.StaffID(uuid.New()),
					ActorRole:  id.RoleManager,
					Action:     ledger.ActionVoid,
					EntityType: "shift",
					EntityID:   uuid.NewString(),
				})
				if err != nil {
					conflicts.Add(1)
				}
			}
		}(svc)
	}
	wg.Wait()

	result, err := svcA.VerifyChain(ctx, tenantID, 0)
	s.Require().NoError(err)
	s.True(result.Valid)

	tail, err := s.store.Tail(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(uint64(2*perWriter)-uint64(conflicts.Load()), tail.SequenceNumber)
}

// Service-level appends carry nanosecond request clocks and JSON snapshots.
// Both must survive TIMESTAMPTZ and TEXT column storage byte-for-byte, or
// verification would halt an untampered chain.
func (s *PostgresStoreSuite) TestServiceAppendVerifiesAfterStorage() {
	tenantID := id.TenantID(uuid.New())
	actorID := id.StaffID(uuid.New())
	svc := ledger.NewService(s.store, slog.New(slog.DiscardHandler))

	base := time.Date(2024, 9, 14, 1, 30, 0, 987654321, time.UTC)
	snapshots := []struct{ prev, next json.RawMessage }{
		{nil, json.RawMessage(`{"status":"ACTIVE","manual_count":0}`)},
		{json.RawMessage(`{"manual_count":0}`), json.RawMessage(`{"manual_count":7}`)},
		{json.RawMessage(`{"status":"ACTIVE"}`), json.RawMessage(`{"status":"PENDING_RECONCILIATION"}`)},
	}
	for i, snap := range snapshots {
		ctx := requestcontext.WithTime(context.Background(),
			base.Add(time.Duration(i)*time.Second+time.Duration(i)*137*time.Nanosecond))
		_, err := svc.Append(ctx, ledger.Draft{
			TenantID:      tenantID,
			ActorID:       actorID,
			ActorRole:     id.RoleVIPHost,
			Action:        ledger.ActionManualCountUpdate,
			EntityType:    "vip_session",
			EntityID:      uuid.NewString(),
			PreviousValue: snap.prev,
			NewValue:      snap.next,
		})
		s.Require().NoError(err)
	}

	entries, err := s.store.Range(context.Background(), tenantID, 1, 3)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	for i, e := range entries {
		s.Equal(e.EntryHash, ledger.ComputeHash(e))
		s.Equal(string(snapshots[i].next), string(e.NewValue))
		s.Zero(e.At.Nanosecond() % 1000)
	}

	result, err := svc.VerifyChain(context.Background(), tenantID, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
}

func (s *PostgresStoreSuite) TestHaltLifecycle() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	halt, err := s.store.Halted(ctx, tenantID)
	s.Require().NoError(err)
	s.Nil(halt)

	s.Require().NoError(s.store.SetHalt(ctx, ledger.Halt{
		TenantID:    tenantID,
		BrokenAtSeq: 7,
		HaltedAt:    time.Now().UTC(),
	}))

	// Idempotent: a second halt must not move the break point.
	s.Require().NoError(s.store.SetHalt(ctx, ledger.Halt{
		TenantID:    tenantID,
		BrokenAtSeq: 9,
		HaltedAt:    time.Now().UTC(),
	}))

	halt, err = s.store.Halted(ctx, tenantID)
	s.Require().NoError(err)
	s.Require().NotNil(halt)
	s.Equal(uint64(7), halt.BrokenAtSeq)

	s.Require().NoError(s.store.ClearHalt(ctx, tenantID, id.StaffID(uuid.New())))

	halt, err = s.store.Halted(ctx, tenantID)
	s.Require().NoError(err)
	s.Nil(halt)
}
