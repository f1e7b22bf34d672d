package restoration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrdering(t *testing.T) {
	ordered := []Status{
		StatusPendingLabel,
		StatusLabelSent,
		StatusInTransitInbound,
		StatusDeliveredWarehouse,
		StatusReceived,
		StatusAtRestoration,
		StatusReadyToShip,
		StatusShipped,
		StatusDelivered,
	}

	for i := 1; i < len(ordered); i++ {
		assert.True(t, CanAdvance(ordered[i-1], ordered[i]),
			"%s -> %s should advance", ordered[i-1], ordered[i])
		assert.False(t, CanAdvance(ordered[i], ordered[i-1]),
			"%s -> %s should not advance", ordered[i], ordered[i-1])
	}

	for _, s := range ordered {
		assert.False(t, CanAdvance(s, s), "%s -> %s must be a no-op", s, s)
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for name, want := range statusValues {
		got, err := ParseStatus(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}

	_, err := ParseStatus("melted")
	assert.Error(t, err)
}

func TestSourceCap(t *testing.T) {
	tests := []struct {
		name     string
		source   Source
		proposed Status
		want     Status
	}{
		{"tracking capped at warehouse delivery", SourceTracking, StatusReceived, StatusDeliveredWarehouse},
		{"tracking capped even for shipped", SourceTracking, StatusShipped, StatusDeliveredWarehouse},
		{"tracking below ceiling untouched", SourceTracking, StatusInTransitInbound, StatusInTransitInbound},
		{"manual may reach received", SourceManual, StatusReceived, StatusReceived},
		{"storefront may reach shipped", SourceStorefront, StatusShipped, StatusShipped},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.source.Cap(tc.proposed))
		})
	}
}

func TestStageColumn(t *testing.T) {
	col, ok := StatusDeliveredWarehouse.StageColumn()
	require.True(t, ok)
	assert.Equal(t, "delivered_to_warehouse_at", col)

	_, ok = StatusPendingLabel.StageColumn()
	assert.False(t, ok, "pending_label has no stage timestamp")

	_, ok = StatusAtRestoration.StageColumn()
	assert.False(t, ok)
}

func TestNormalizeCarrierStatus(t *testing.T) {
	assert.Equal(t, StatusDeliveredWarehouse, NormalizeCarrierStatus("Delivered"))
	assert.Equal(t, StatusInTransitInbound, NormalizeCarrierStatus("InTransit"))
	assert.Equal(t, StatusLabelSent, NormalizeCarrierStatus("InfoReceived"))
	assert.Equal(t, StatusUnknown, NormalizeCarrierStatus("Exception"))
}
