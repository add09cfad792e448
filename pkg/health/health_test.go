package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(c *Checker)
		wantStatus Status
		wantCode   int
	}{
		{"AllUp", func(c *Checker) {
			c.Register("classifier", PingCheck(up))
			c.RegisterOptional("redis", PingCheck(up))
		}, StatusUp, http.StatusOK},
		{"OptionalDown", func(c *Checker) {
			c.Register("classifier", PingCheck(up))
			c.RegisterOptional("redis", PingCheck(down))
		}, StatusDegraded, http.StatusOK},
		{"RequiredDown", func(c *Checker) {
			c.Register("classifier", PingCheck(down))
			c.RegisterOptional("redis", PingCheck(up))
		}, StatusDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.setup(c)

			rec := httptest.NewRecorder()
			c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var report Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Len(t, report.Components, 2)
		})
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunBoundsSlowAndPanickingChecks(t *testing.T) {
	c := NewChecker()
	c.SetTimeout(20 * time.Millisecond)
	c.Register("kafka", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return ComponentHealth{Status: StatusDown, Message: ctx.Err().Error()}
	})
	c.RegisterOptional("redis", func(ctx context.Context) ComponentHealth {
		panic("nil client")
	})

	start := time.Now()
	report := c.Run(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Components["kafka"].Status)
	assert.Equal(t, StatusDegraded, report.Components["redis"].Status)
	assert.True(t, report.Components["redis"].Optional)
	assert.Contains(t, report.Components["redis"].Message, "nil client")
}
