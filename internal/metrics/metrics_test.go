package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "network"},
		{101, "1xx"},
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{401, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusClass(tt.code), "code %d", tt.code)
	}
}

func TestRecordRefresh(t *testing.T) {
	before := testutil.ToFloat64(RefreshTotal.WithLabelValues(RefreshShared))

	RecordRefresh(RefreshShared)
	RecordRefresh(RefreshShared)

	assert.Equal(t, before+2, testutil.ToFloat64(RefreshTotal.WithLabelValues(RefreshShared)))
}

func TestSnapshot(t *testing.T) {
	RecordRequest("GET", "2xx", 0.01)
	RecordTeardown("unauthorized")

	snap, err := Snapshot()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snap["cfmctl_api_requests_total{method=GET}{status_class=2xx}"], 1.0)
	assert.GreaterOrEqual(t, snap["cfmctl_session_teardowns_total{reason=unauthorized}"], 1.0)
	assert.GreaterOrEqual(t, snap["cfmctl_api_request_duration_seconds{method=GET}_count"], 1.0)
}
