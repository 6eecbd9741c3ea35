package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("GET", "/api/students", 200, 15*time.Millisecond)
	LeaveDecided("approved")
	AttendanceRecorded("sick", "leave")

	body := scrape(t)
	assert.Contains(t, body, `absenku_http_requests_total{method="GET",path="/api/students",status="200"}`)
	assert.Contains(t, body, `absenku_leave_decisions_total{decision="approved"}`)
	assert.Contains(t, body, `absenku_attendance_records_total{source="leave",status="sick"}`)
}

func TestObserveHTTPRequestLabelsUnmatchedRoutes(t *testing.T) {
	ObserveHTTPRequest("GET", "", 404, time.Millisecond)
	assert.Contains(t, scrape(t), `path="unmatched",status="404"`)
}
