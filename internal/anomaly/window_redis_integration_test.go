//go:build integration

package anomaly_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nightwatch/internal/anomaly"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/testutil/containers"
)

type RedisWindowSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *anomaly.RedisWindowStore
}

func TestRedisWindowSuite(t *testing.T) {
	suite.Run(t, new(RedisWindowSuite))
}

func (s *RedisWindowSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = anomaly.NewRedisWindowStore(s.redis.Client)
}

func (s *RedisWindowSuite) SetupTest() {
	require.NoError(s.T(), s.redis.FlushAll(context.Background()))
}

func (s *RedisWindowSuite) TestRecordCountsWithinWindow() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	actorID := id.StaffID(uuid.New())
	now := time.Now()

	for i := 1; i <= 3; i++ {
		count, err := s.store.Record(ctx, tenantID, actorID, now.Add(time.Duration(i)*time.Minute), 24*time.Hour)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), i, count)
	}
}

func (s *RedisWindowSuite) TestRecordPrunesExpiredEvents() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	actorID := id.StaffID(uuid.New())
	now := time.Now()
	window := 24 * time.Hour

	// Two old events, then one inside the window.
	_, err := s.store.Record(ctx, tenantID, actorID, now.Add(-26*time.Hour), window)
	require.NoError(s.T(), err)
	_, err = s.store.Record(ctx, tenantID, actorID, now.Add(-25*time.Hour), window)
	require.NoError(s.T(), err)

	count, err := s.store.Record(ctx, tenantID, actorID, now, window)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, count, "events older than the window must not count")
}

// Same contract as the in-memory store: an event exactly one window old is
// expired, a younger one is not. The inside margin is a full second since
// sorted-set scores are float64 and cannot hold nanoseconds exactly.
func (s *RedisWindowSuite) TestRecordWindowEdgeIsExclusive() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	actorID := id.StaffID(uuid.New())
	base := time.Now()
	window := time.Hour

	_, err := s.store.Record(ctx, tenantID, actorID, base, window)
	require.NoError(s.T(), err)

	count, err := s.store.Record(ctx, tenantID, actorID, base.Add(window), window)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, count, "event at the window edge must be expired")

	count, err = s.store.Record(ctx, tenantID, actorID, base.Add(2*window-time.Second), window)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, count)
}

func (s *RedisWindowSuite) TestRecordIsolatesActorsAndTenants() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	actorA := id.StaffID(uuid.New())
	actorB := id.StaffID(uuid.New())
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := s.store.Record(ctx, tenantID, actorA, now, 24*time.Hour)
		require.NoError(s.T(), err)
	}

	count, err := s.store.Record(ctx, tenantID, actorB, now, 24*time.Hour)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, count)

	count, err = s.store.Record(ctx, id.TenantID(uuid.New()), actorA, now, 24*time.Hour)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, count)
}

func (s *RedisWindowSuite) TestSimultaneousEventsAllCount() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	actorID := id.StaffID(uuid.New())
	at := time.Now()

	// Same timestamp must not collapse into one sorted-set member.
	var count int
	var err error
	for i := 0; i < 3; i++ {
		count, err = s.store.Record(ctx, tenantID, actorID, at, 24*time.Hour)
		require.NoError(s.T(), err)
	}
	assert.Equal(s.T(), 3, count)
}
