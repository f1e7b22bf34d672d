package restoration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
)

func newTestEngine(t *testing.T) (*Engine, *memRecordRepo, *captureAuditor) {
	t.Helper()
	repo := newMemRecordRepo()
	audit := &captureAuditor{}
	linker := NewLinker(repo, nil, zap.NewNop())
	return NewEngine(repo, linker, audit, zap.NewNop()), repo, audit
}

func TestApply_CreatesRecordAtProposedStatus(t *testing.T) {
	engine, repo, audit := newTestEngine(t)

	result, err := engine.Apply(context.Background(), Proposal{
		Keys:      LinkKeys{ReturnsPlatformID: "ret-1"},
		EventType: "label.provided",
		Source:    SourceReturns,
		Proposed:  StatusLabelSent,
	})

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "label_sent", result.Record.Status)

	stored := repo.mustGet(result.Record.ID)
	require.NotNil(t, stored.LabelSentAt)
	require.Len(t, audit.all(), 1)
	assert.Equal(t, "label.provided", audit.all()[0].EventType)
}

func TestApply_MonotonicStatusNeverReverts(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Apply(ctx, Proposal{
		Keys:     LinkKeys{ReturnsPlatformID: "ret-2"},
		Source:   SourceReturns,
		Proposed: StatusDeliveredWarehouse,
	})
	require.NoError(t, err)
	id := result.Record.ID

	// A stale lower-stage event arrives late.
	late, err := engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{ReturnsPlatformID: "ret-2"},
		Source:     SourceReturns,
		Proposed:   StatusLabelSent,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, late.StatusChanged)

	stored := repo.mustGet(id)
	assert.Equal(t, "delivered_warehouse", stored.Status)
	// The stale event still fills its stage timestamp.
	require.NotNil(t, stored.LabelSentAt)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *stored.LabelSentAt)
}

func TestApply_IdempotentRedelivery(t *testing.T) {
	engine, repo, audit := newTestEngine(t)
	ctx := context.Background()

	proposal := Proposal{
		Keys:     LinkKeys{ReturnsPlatformID: "ret-3"},
		Source:   SourceTracking,
		Proposed: StatusDeliveredWarehouse,
		Tracking: &TrackingUpdate{Number: "1Z999", Carrier: "ups", StatusRaw: "Delivered"},
	}

	first, err := engine.Apply(ctx, proposal)
	require.NoError(t, err)
	assert.True(t, first.StatusChanged)

	second, err := engine.Apply(ctx, proposal)
	require.NoError(t, err)
	assert.False(t, second.StatusChanged)

	stored := repo.mustGet(first.Record.ID)
	assert.Equal(t, "delivered_warehouse", stored.Status)
	require.NotNil(t, stored.TrackingNumber)
	assert.Equal(t, "1Z999", *stored.TrackingNumber)
	// Redelivery is audited both times; replaying is safe, not invisible.
	assert.Len(t, audit.all(), 2)
}

func TestApply_FirstWriteWinsStageTimestamp(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	result, err := engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{ReturnsPlatformID: "ret-4"},
		Source:     SourceReturns,
		Proposed:   StatusLabelSent,
		OccurredAt: t1,
	})
	require.NoError(t, err)

	_, err = engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{ReturnsPlatformID: "ret-4"},
		Source:     SourceReturns,
		Proposed:   StatusLabelSent,
		OccurredAt: t2,
	})
	require.NoError(t, err)

	stored := repo.mustGet(result.Record.ID)
	require.NotNil(t, stored.LabelSentAt)
	assert.Equal(t, t1, *stored.LabelSentAt)
}

func TestApply_TrackingSourceCeiling(t *testing.T) {
	engine, repo, _ := newTestEngine(t)

	// Even a proposal beyond the ceiling from the tracking path is clamped.
	result, err := engine.Apply(context.Background(), Proposal{
		Keys:     LinkKeys{ReturnsPlatformID: "ret-5"},
		Source:   SourceTracking,
		Proposed: StatusReceived,
	})
	require.NoError(t, err)

	stored := repo.mustGet(result.Record.ID)
	assert.Equal(t, "delivered_warehouse", stored.Status)
	assert.Nil(t, stored.ReceivedAt)
}

func TestApply_ManualSourceMayEnterReceived(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Apply(ctx, Proposal{
		Keys:     LinkKeys{ReturnsPlatformID: "ret-6"},
		Source:   SourceTracking,
		Proposed: StatusDeliveredWarehouse,
	})
	require.NoError(t, err)

	result, err := engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{ReturnsPlatformID: "ret-6"},
		Source:     SourceManual,
		Proposed:   StatusReceived,
		LookupOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)

	stored := repo.mustGet(created.Record.ID)
	assert.Equal(t, "received", stored.Status)
	require.NotNil(t, stored.ReceivedAt)
}

func TestApply_ByRecordIDAdvancesKeylessRecord(t *testing.T) {
	engine, repo, audit := newTestEngine(t)
	ctx := context.Background()

	// An order lookup that never resolved leaves a record with no linking
	// keys; check-in addresses it by id.
	id := uuid.New()
	require.NoError(t, repo.Create(ctx, &repository.RestorationRecord{ID: id, Status: "pending_label"}))

	result, err := engine.Apply(ctx, Proposal{
		RecordID:  id,
		EventType: "item.checked_in",
		Source:    SourceManual,
		Actor:     "ops",
		Proposed:  StatusReceived,
	})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)

	stored := repo.mustGet(id)
	assert.Equal(t, "received", stored.Status)
	require.NotNil(t, stored.ReceivedAt)
	require.Len(t, audit.all(), 1)
	assert.Equal(t, "item.checked_in", audit.all()[0].EventType)
}

func TestApply_ByRecordIDUnknownRecord(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), Proposal{
		RecordID: uuid.New(),
		Source:   SourceManual,
		Proposed: StatusReceived,
	})
	require.ErrorIs(t, err, repository.ErrObjectNotFound)
}

func TestApply_ForceAdvanceFlagsSkippedStages(t *testing.T) {
	engine, repo, audit := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Apply(ctx, Proposal{
		Keys:     LinkKeys{SourceOrderID: 100},
		Source:   SourceStorefront,
		Proposed: StatusPendingLabel,
	})
	require.NoError(t, err)

	result, err := engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{SourceOrderID: 100},
		EventType:  "fulfillments/create",
		Source:     SourceStorefront,
		Force:      true,
		LookupOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)
	assert.True(t, result.StagesSkipped)

	stored := repo.mustGet(created.Record.ID)
	assert.Equal(t, "shipped", stored.Status)
	require.NotNil(t, stored.ShippedAt)

	events := audit.all()
	require.Len(t, events, 2)
	assert.True(t, events[1].StagesSkipped)
}

func TestApply_ForceAdvanceFromReadyToShipIsNotFlagged(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Apply(ctx, Proposal{
		Keys:     LinkKeys{SourceOrderID: 101},
		Source:   SourceManual,
		Proposed: StatusReadyToShip,
	})
	require.NoError(t, err)

	result, err := engine.Apply(ctx, Proposal{
		Keys:       LinkKeys{SourceOrderID: 101},
		Source:     SourceStorefront,
		Force:      true,
		LookupOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)
	assert.False(t, result.StagesSkipped)
	assert.Equal(t, "shipped", repo.mustGet(created.Record.ID).Status)
}

func TestApply_LookupOnlyMissIsSilentSkip(t *testing.T) {
	engine, repo, audit := newTestEngine(t)

	result, err := engine.Apply(context.Background(), Proposal{
		Keys:       LinkKeys{SourceOrderID: 999},
		EventType:  "orders/cancelled",
		Source:     SourceStorefront,
		LookupOnly: true,
	})

	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, repo.count())
	assert.Empty(t, audit.all())
}

func TestApply_PermutationConvergence(t *testing.T) {
	t1 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	t3 := time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)

	events := []Proposal{
		{Keys: LinkKeys{ReturnsPlatformID: "ret-7"}, Source: SourceReturns, Proposed: StatusLabelSent, OccurredAt: t1},
		{Keys: LinkKeys{ReturnsPlatformID: "ret-7"}, Source: SourceTracking, Proposed: StatusInTransitInbound, OccurredAt: t2,
			Tracking: &TrackingUpdate{Number: "1Z1", Carrier: "ups", StatusRaw: "InTransit"}},
		{Keys: LinkKeys{ReturnsPlatformID: "ret-7"}, Source: SourceTracking, Proposed: StatusDeliveredWarehouse, OccurredAt: t3,
			Tracking: &TrackingUpdate{Number: "1Z1", Carrier: "ups", StatusRaw: "Delivered"}},
	}

	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, perm := range permutations {
		engine, repo, _ := newTestEngine(t)
		ctx := context.Background()

		var id = func() (last *repository.RestorationRecord) {
			for _, i := range perm {
				result, err := engine.Apply(ctx, events[i])
				require.NoError(t, err)
				last = result.Record
			}
			return last
		}()

		stored := repo.mustGet(id.ID)
		assert.Equal(t, "delivered_warehouse", stored.Status, "permutation %v", perm)
		require.NotNil(t, stored.LabelSentAt, "permutation %v", perm)
		assert.Equal(t, t1, *stored.LabelSentAt, "permutation %v", perm)
		require.NotNil(t, stored.ShippedByCustomerAt, "permutation %v", perm)
		assert.Equal(t, t2, *stored.ShippedByCustomerAt, "permutation %v", perm)
		require.NotNil(t, stored.DeliveredToWarehouseAt, "permutation %v", perm)
		assert.Equal(t, t3, *stored.DeliveredToWarehouseAt, "permutation %v", perm)
	}
}
