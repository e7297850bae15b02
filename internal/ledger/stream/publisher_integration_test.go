//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"nightwatch/internal/ledger"
	"nightwatch/internal/ledger/stream"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/testutil/containers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntry(tenantID id.TenantID, seq uint64) *ledger.Entry {
	e := &ledger.Entry{
		ID:             id.NewEntryID(),
		TenantID:       tenantID,
		SequenceNumber: seq,
		At:             time.Now().UTC(),
		ActorID:        id.StaffID(uuid.New()),
		ActorRole:      id.RoleDoorStaff,
		Action:         ledger.ActionSessionStart,
		EntityType:     "session",
		EntityID:       uuid.NewString(),
		PreviousHash:   ledger.GenesisHash,
	}
	e.EntryHash = ledger.ComputeHash(e)
	return e
}

func TestPublisher_ProducesAppendedEntries(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx := context.Background()
	topic := "nightwatch.audit.test"

	publisher, err := stream.New(ctx, []string{broker.Seed}, topic, discardLogger())
	require.NoError(t, err)

	tenantID := id.TenantID(uuid.New())
	want := []*ledger.Entry{testEntry(tenantID, 1), testEntry(tenantID, 2), testEntry(tenantID, 3)}
	for _, e := range want {
		publisher.Publish(e)
	}
	// Close drains the buffer before shutting the client down.
	publisher.Close()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Seed),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var records []*kgo.Record
	deadline := time.Now().Add(30 * time.Second)
	for len(records) < len(want) && time.Now().Before(deadline) {
		pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		fetches := consumer.PollFetches(pollCtx)
		cancel()
		fetches.EachRecord(func(r *kgo.Record) { records = append(records, r) })
	}
	require.Len(t, records, len(want))

	// Tenant-keyed records land on one partition, so consumption order is
	// chain order.
	for i, record := range records {
		assert.Equal(t, tenantID.String(), string(record.Key))

		var got ledger.Entry
		require.NoError(t, json.Unmarshal(record.Value, &got))
		assert.Equal(t, want[i].SequenceNumber, got.SequenceNumber)
		assert.Equal(t, want[i].EntryHash, got.EntryHash)
		assert.Equal(t, want[i].Action, got.Action)
	}
}

func TestNew_TopicAlreadyExists(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx := context.Background()
	topic := "nightwatch.audit.existing"

	first, err := stream.New(ctx, []string{broker.Seed}, topic, discardLogger())
	require.NoError(t, err)
	first.Close()

	second, err := stream.New(ctx, []string{broker.Seed}, topic, discardLogger())
	require.NoError(t, err)
	second.Close()
}
