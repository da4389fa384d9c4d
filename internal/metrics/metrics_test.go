package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("signoz-ingestion-key = abc, x-tenant=t1,broken")

	assert.Equal(t, map[string]string{"signoz-ingestion-key": "abc", "x-tenant": "t1"}, got)
	assert.Empty(t, parseHeaders(""))
}

func TestRecordCheckout(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(provider.Meter("test"), "storefront")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCheckout(ctx, "success", time.Now())
	m.RecordCheckout(ctx, "EMPTY_CART", time.Now())
	m.RecordPostCommitFailure(ctx, "events_emitted")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if data, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["checkouts_total"])
	assert.Equal(t, int64(1), sums["checkout_post_commit_failures_total"])
}

func TestNewNoop(t *testing.T) {
	m := NewNoop()
	assert.NotPanics(t, func() {
		m.RecordDBQuery(context.Background(), "SELECT", "orders", "SELECT 1", time.Now(), true)
	})
}
