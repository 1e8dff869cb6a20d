package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
)

type captureChannel struct {
	mu     sync.Mutex
	alerts []*Alert
	sent   chan struct{}
}

func newCaptureChannel() *captureChannel {
	return &captureChannel{sent: make(chan struct{}, 16)}
}

// Send snapshots the alert: the service reuses one Alert across trigger and
// resolve, so storing the pointer would show every delivery post-mutation.
func (c *captureChannel) Send(ctx context.Context, alert *Alert) error {
	c.mu.Lock()
	snapshot := *alert
	c.alerts = append(c.alerts, &snapshot)
	c.mu.Unlock()
	c.sent <- struct{}{}
	return nil
}

func (c *captureChannel) Name() string {
	return "capture"
}

func (c *captureChannel) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-c.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func (c *captureChannel) captured() []*Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func TestService_TriggerAlert_FillsDefaults(t *testing.T) {
	svc := NewService(nil, nil)

	err := svc.TriggerAlert(context.Background(), &Alert{
		Title:     "breaker opened",
		Component: "resilience",
	})
	require.NoError(t, err)

	active := svc.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.NotEmpty(t, active[0].ID)
	assert.Equal(t, SeverityWarning, active[0].Severity)
	assert.WithinDuration(t, time.Now(), active[0].Timestamp, time.Second)
	assert.Len(t, svc.History(), 1)
}

func TestService_TriggerAlert_Disabled(t *testing.T) {
	svc := NewService(nil, &Config{Enabled: false})

	err := svc.TriggerAlert(context.Background(), &Alert{ID: "a", Title: "ignored"})
	require.NoError(t, err)
	assert.Empty(t, svc.GetActiveAlerts())
}

func TestService_TriggerAlert_DedupesActiveID(t *testing.T) {
	svc := NewService(nil, nil)

	require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{
		ID: "breaker-model", Title: "open", Description: "first",
	}))
	require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{
		ID: "breaker-model", Title: "open", Description: "updated",
	}))

	active := svc.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "updated", active[0].Description)
	assert.Len(t, svc.History(), 1)
}

func TestService_TriggerAlert_MaxAlerts(t *testing.T) {
	svc := NewService(nil, &Config{Enabled: true, MaxAlerts: 1, HistorySize: 10})

	require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{ID: "first"}))
	err := svc.TriggerAlert(context.Background(), &Alert{ID: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum number of active alerts")
}

func TestService_ResolveAlert(t *testing.T) {
	svc := NewService(nil, nil)

	require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{ID: "a", Title: "firing"}))
	require.NoError(t, svc.ResolveAlert(context.Background(), "a"))

	assert.Empty(t, svc.GetActiveAlerts())

	_, exists := svc.GetAlert("a")
	assert.False(t, exists)

	// History still holds the alert, now marked resolved.
	history := svc.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	require.NotNil(t, history[0].ResolvedAt)

	err := svc.ResolveAlert(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestService_HistoryCapped(t *testing.T) {
	svc := NewService(nil, &Config{Enabled: true, MaxAlerts: 100, HistorySize: 3})

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{
			ID: fmt.Sprintf("alert-%d", i),
		}))
	}

	history := svc.History()
	require.Len(t, history, 3)
	assert.Equal(t, "alert-2", history[0].ID)
	assert.Equal(t, "alert-4", history[2].ID)
}

func TestService_Rules(t *testing.T) {
	svc := NewService(nil, nil)

	svc.AddRule(PredefinedAlerts["breaker_open"])
	svc.AddRule(PredefinedAlerts["queue_backlog_high"])
	assert.Len(t, svc.Rules(), 2)

	svc.RemoveRule("breaker_open")
	rules := svc.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "queue_backlog_high", rules[0].Name)
}

func TestService_NotificationsFanOut(t *testing.T) {
	svc := NewService(nil, nil)
	capture := newCaptureChannel()
	svc.AddChannel(capture)

	require.NoError(t, svc.TriggerAlert(context.Background(), &Alert{ID: "a", Title: "firing"}))
	capture.waitForSend(t)

	require.NoError(t, svc.ResolveAlert(context.Background(), "a"))
	capture.waitForSend(t)

	captured := capture.captured()
	require.Len(t, captured, 2)
	assert.False(t, captured[0].Resolved)
	assert.True(t, captured[1].Resolved)
}

func TestService_TriggerErrorAlert(t *testing.T) {
	svc := NewService(nil, nil)
	capture := newCaptureChannel()
	svc.AddChannel(capture)

	timeoutErr := errors.NewTimeoutError("essay generation")
	require.NoError(t, svc.TriggerErrorAlert(context.Background(), "executor", timeoutErr))
	capture.waitForSend(t)

	active := svc.GetActiveAlerts()
	require.Len(t, active, 1)
	alert := active[0]
	assert.Equal(t, "executor-timeout", alert.ID)
	assert.Equal(t, "Operation Timeout", alert.Title)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Equal(t, "executor", alert.Component)
	assert.Equal(t, "timeout", alert.Labels["error_type"])
	assert.Equal(t, "TIMEOUT", alert.Labels["error_code"])
	assert.Contains(t, alert.Description, "timed out")
}

func TestService_TriggerErrorAlert_RepeatUpdatesActive(t *testing.T) {
	svc := NewService(nil, nil)

	require.NoError(t, svc.TriggerErrorAlert(context.Background(), "archive",
		errors.NewInternalError("write failed")))
	require.NoError(t, svc.TriggerErrorAlert(context.Background(), "archive",
		errors.NewInternalError("still failing")))

	active := svc.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "archive-internal", active[0].ID)
	assert.Contains(t, active[0].Description, "still failing")
	assert.Len(t, svc.History(), 1)
}

func TestService_TriggerErrorAlert_NilError(t *testing.T) {
	svc := NewService(nil, nil)

	require.NoError(t, svc.TriggerErrorAlert(context.Background(), "executor", nil))
	assert.Empty(t, svc.GetActiveAlerts())
	assert.Empty(t, svc.History())
}

func TestErrorSeverity(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Severity
	}{
		{"timeout", errors.NewTimeoutError("model call"), SeverityWarning},
		{"external", errors.NewExternalError("model", "upstream unavailable"), SeverityWarning},
		{"validation", errors.NewValidationError("bad input"), SeverityInfo},
		{"not_found", errors.NewNotFoundError("session"), SeverityInfo},
		{"internal", errors.NewInternalError("state corrupted"), SeverityCritical},
		{"exhausted", errors.NewExhaustionError("task-1", 4), SeverityCritical},
		{"untyped", fmt.Errorf("plain failure"), SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorSeverity(tc.err))
		})
	}
}

func TestLogChannel_Send(t *testing.T) {
	channel := NewLogChannel(nil)
	assert.Equal(t, "log", channel.Name())

	for _, severity := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical, SeverityFatal} {
		err := channel.Send(context.Background(), &Alert{
			ID:       "a",
			Title:    "test",
			Severity: severity,
		})
		assert.NoError(t, err, "severity %s", severity)
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, map[string]string{"X-Token": "secret"})
	assert.Equal(t, "webhook", channel.Name())

	alert := &Alert{ID: "wh-1", Title: "queue backlog", Severity: SeverityWarning}
	require.NoError(t, channel.Send(context.Background(), alert))
	assert.Equal(t, "wh-1", received.ID)
	assert.Equal(t, SeverityWarning, received.Severity)
}

func TestWebhookChannel_SendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, nil)
	err := channel.Send(context.Background(), &Alert{ID: "wh-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSlackChannel_Send(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(server.URL, "#pipeline-alerts", "pipeline", ":rotating_light:")
	assert.Equal(t, "slack", channel.Name())

	err := channel.Send(context.Background(), &Alert{
		ID:       "sl-1",
		Title:    "breaker open",
		Severity: SeverityCritical,
		Labels:   map[string]string{"breaker": "model"},
	})
	require.NoError(t, err)

	assert.Equal(t, "#pipeline-alerts", payload["channel"])
	assert.Equal(t, "pipeline", payload["username"])
	attachments, ok := payload["attachments"].([]interface{})
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]interface{})
	assert.Contains(t, first["title"], "FIRING")
	assert.Contains(t, first["title"], "breaker open")
}

func TestPredefinedAlerts(t *testing.T) {
	for _, name := range []string{
		"breaker_open",
		"queue_backlog_high",
		"fallback_rate_high",
		"timeout_rate_high",
		"archive_write_failures",
	} {
		rule, exists := PredefinedAlerts[name]
		require.True(t, exists, "missing rule %s", name)
		assert.Equal(t, name, rule.Name)
		assert.True(t, rule.Enabled)
		assert.NotEmpty(t, rule.Condition.MetricName)
	}

	assert.Equal(t, SeverityCritical, PredefinedAlerts["breaker_open"].Severity)
}
