package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/final5team-odiga/EssayAgents/pkg/errors"
	"github.com/final5team-odiga/EssayAgents/pkg/logging"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

// Alert represents an alert
type Alert struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Component   string            `json:"component"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Resolved    bool              `json:"resolved"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// AlertRule represents an alerting rule
type AlertRule struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Condition   AlertCondition    `json:"condition"`
	Severity    Severity          `json:"severity"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Enabled     bool              `json:"enabled"`
}

// AlertCondition represents conditions for triggering alerts
type AlertCondition struct {
	MetricName  string  `json:"metric_name"`
	Operator    string  `json:"operator"` // >, <, >=, <=, ==, !=
	Threshold   float64 `json:"threshold"`
	Duration    string  `json:"duration"`
	Aggregation string  `json:"aggregation"` // avg, sum, min, max, count
}

// NotificationChannel represents a notification channel
type NotificationChannel interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// Service provides alerting functionality
type Service struct {
	channels     []NotificationChannel
	rules        map[string]*AlertRule
	activeAlerts map[string]*Alert
	history      []*Alert
	logger       *logging.Logger
	mutex        sync.RWMutex
	config       *Config
}

// Config holds alerting configuration
type Config struct {
	Enabled         bool     `json:"enabled"`
	DefaultSeverity Severity `json:"default_severity"`
	MaxAlerts       int      `json:"max_alerts"`
	HistorySize     int      `json:"history_size"`
}

// DefaultConfig returns default alerting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultSeverity: SeverityWarning,
		MaxAlerts:       1000,
		HistorySize:     100,
	}
}

// NewService creates a new alerting service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = 1000
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		channels:     make([]NotificationChannel, 0),
		rules:        make(map[string]*AlertRule),
		activeAlerts: make(map[string]*Alert),
		logger:       logger.WithComponent("alerting"),
		config:       config,
	}
}

// AddChannel adds a notification channel
func (s *Service) AddChannel(channel NotificationChannel) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.channels = append(s.channels, channel)
}

// AddRule adds an alerting rule
func (s *Service) AddRule(rule *AlertRule) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rules[rule.Name] = rule
}

// RemoveRule removes an alerting rule
func (s *Service) RemoveRule(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.rules, name)
}

// Rules returns all registered alerting rules
func (s *Service) Rules() []*AlertRule {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rules := make([]*AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	return rules
}

// TriggerAlert triggers an alert. Re-triggering an active alert id updates
// the stored alert instead of firing a duplicate.
func (s *Service) TriggerAlert(ctx context.Context, alert *Alert) error {
	if !s.config.Enabled {
		return nil
	}

	s.mutex.Lock()

	// Check if we've reached the maximum number of alerts
	if len(s.activeAlerts) >= s.config.MaxAlerts {
		s.mutex.Unlock()
		s.logger.Warn("Maximum number of active alerts reached, dropping alert",
			"alert_id", alert.ID,
			"component", alert.Component,
		)
		return fmt.Errorf("maximum number of active alerts reached")
	}

	// Fill in defaults
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Component, time.Now().Unix())
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.Severity == "" {
		alert.Severity = s.config.DefaultSeverity
	}

	// Check if alert is already active
	if existingAlert, exists := s.activeAlerts[alert.ID]; exists {
		existingAlert.Description = alert.Description
		existingAlert.Timestamp = alert.Timestamp
		existingAlert.Labels = alert.Labels
		existingAlert.Annotations = alert.Annotations
		s.mutex.Unlock()
		return nil
	}

	s.activeAlerts[alert.ID] = alert
	s.appendHistoryLocked(alert)
	s.mutex.Unlock()

	s.logger.Warn("Alert triggered",
		"alert_id", alert.ID,
		"title", alert.Title,
		"severity", string(alert.Severity),
		"component", alert.Component,
	)

	go s.sendNotifications(ctx, alert)

	return nil
}

// TriggerErrorAlert derives an alert from an application error and fires it.
// The error taxonomy picks the severity, the title, and the error_type and
// error_code labels. Alerts share one id per component and error type, so a
// repeating failure updates the active alert instead of firing again. A nil
// error is a no-op.
func (s *Service) TriggerErrorAlert(ctx context.Context, component string, err error) error {
	if err == nil {
		return nil
	}

	return s.TriggerAlert(ctx, &Alert{
		ID:          fmt.Sprintf("%s-%s", component, errors.GetType(err)),
		Title:       errorTitle(err),
		Description: err.Error(),
		Severity:    errorSeverity(err),
		Component:   component,
		Labels: map[string]string{
			"error_type": string(errors.GetType(err)),
			"error_code": errors.GetCode(err),
		},
	})
}

func errorSeverity(err error) Severity {
	switch errors.GetType(err) {
	case errors.ErrorTypeTimeout, errors.ErrorTypeExternal:
		return SeverityWarning
	case errors.ErrorTypeValidation, errors.ErrorTypeNotFound:
		return SeverityInfo
	case errors.ErrorTypeInternal, errors.ErrorTypeExhausted:
		return SeverityCritical
	default:
		return SeverityCritical
	}
}

func errorTitle(err error) string {
	switch errors.GetType(err) {
	case errors.ErrorTypeTimeout:
		return "Operation Timeout"
	case errors.ErrorTypeExternal:
		return "External Service Error"
	case errors.ErrorTypeInternal:
		return "Internal Pipeline Error"
	case errors.ErrorTypeValidation:
		return "Validation Error"
	case errors.ErrorTypeNotFound:
		return "Resource Not Found"
	case errors.ErrorTypeExhausted:
		return "Retry Budget Exhausted"
	default:
		return fmt.Sprintf("Error: %s", errors.GetCode(err))
	}
}

// ResolveAlert resolves an active alert
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	s.mutex.Lock()

	alert, exists := s.activeAlerts[alertID]
	if !exists {
		s.mutex.Unlock()
		return fmt.Errorf("alert %s not found", alertID)
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(s.activeAlerts, alertID)
	s.mutex.Unlock()

	s.logger.Info("Alert resolved",
		"alert_id", alert.ID,
		"title", alert.Title,
		"component", alert.Component,
		"duration", now.Sub(alert.Timestamp).String(),
	)

	go s.sendNotifications(ctx, alert)

	return nil
}

// GetActiveAlerts returns all active alerts
func (s *Service) GetActiveAlerts() []*Alert {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alerts := make([]*Alert, 0, len(s.activeAlerts))
	for _, alert := range s.activeAlerts {
		alerts = append(alerts, alert)
	}

	return alerts
}

// GetAlert returns a specific alert
func (s *Service) GetAlert(alertID string) (*Alert, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alert, exists := s.activeAlerts[alertID]
	return alert, exists
}

// History returns recently fired alerts, newest last, capped at the
// configured history size.
func (s *Service) History() []*Alert {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*Alert, len(s.history))
	copy(out, s.history)
	return out
}

// appendHistoryLocked records a fired alert. Callers must hold the mutex.
func (s *Service) appendHistoryLocked(alert *Alert) {
	s.history = append(s.history, alert)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[len(s.history)-s.config.HistorySize:]
	}
}

// sendNotifications sends alert notifications to all channels
func (s *Service) sendNotifications(ctx context.Context, alert *Alert) {
	s.mutex.RLock()
	channels := make([]NotificationChannel, len(s.channels))
	copy(channels, s.channels)
	s.mutex.RUnlock()

	for _, channel := range channels {
		go func(ch NotificationChannel) {
			if err := ch.Send(ctx, alert); err != nil {
				s.logger.Error("Failed to send alert notification",
					"channel", ch.Name(),
					"alert_id", alert.ID,
					"error", err.Error(),
				)
			}
		}(channel)
	}
}

// LogChannel writes alerts to the structured log. It is the default channel
// so alerts are never silently lost when no external channel is configured.
type LogChannel struct {
	logger *logging.Logger
}

// NewLogChannel creates a new log notification channel
func NewLogChannel(logger *logging.Logger) *LogChannel {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogChannel{
		logger: logger.WithComponent("alerts"),
	}
}

// Name returns the channel name
func (lc *LogChannel) Name() string {
	return "log"
}

// Send writes the alert to the log at a level matching its severity
func (lc *LogChannel) Send(ctx context.Context, alert *Alert) error {
	status := "FIRING"
	if alert.Resolved {
		status = "RESOLVED"
	}

	fields := []interface{}{
		"alert_id", alert.ID,
		"title", alert.Title,
		"severity", string(alert.Severity),
		"component", alert.Component,
		"status", status,
		"description", alert.Description,
	}

	switch alert.Severity {
	case SeverityCritical, SeverityFatal:
		lc.logger.Error("Alert notification", fields...)
	case SeverityWarning:
		lc.logger.Warn("Alert notification", fields...)
	default:
		lc.logger.Info("Alert notification", fields...)
	}

	return nil
}

// SlackChannel implements Slack notifications
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	client     *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(webhookURL, channel, username, iconEmoji string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		iconEmoji:  iconEmoji,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (sc *SlackChannel) Name() string {
	return "slack"
}

// Send sends an alert to Slack
func (sc *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	color := sc.getColorForSeverity(alert.Severity)
	status := "FIRING"
	if alert.Resolved {
		status = "RESOLVED"
		color = "good"
	}

	payload := map[string]interface{}{
		"channel":    sc.channel,
		"username":   sc.username,
		"icon_emoji": sc.iconEmoji,
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"title":     fmt.Sprintf("[%s] %s", status, alert.Title),
				"text":      alert.Description,
				"timestamp": alert.Timestamp.Unix(),
				"fields": []map[string]interface{}{
					{
						"title": "Severity",
						"value": string(alert.Severity),
						"short": true,
					},
					{
						"title": "Component",
						"value": alert.Component,
						"short": true,
					},
				},
			},
		},
	}

	// Add labels as fields
	if len(alert.Labels) > 0 {
		attachment := payload["attachments"].([]map[string]interface{})[0]
		fields := attachment["fields"].([]map[string]interface{})

		for key, value := range alert.Labels {
			fields = append(fields, map[string]interface{}{
				"title": key,
				"value": value,
				"short": true,
			})
		}

		attachment["fields"] = fields
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sc.webhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack API returned status %d", resp.StatusCode)
	}

	return nil
}

// getColorForSeverity returns the appropriate color for alert severity
func (sc *SlackChannel) getColorForSeverity(severity Severity) string {
	switch severity {
	case SeverityInfo:
		return "#36a64f" // green
	case SeverityWarning:
		return "#ff9500" // orange
	case SeverityCritical:
		return "#ff0000" // red
	case SeverityFatal:
		return "#8b0000" // dark red
	default:
		return "#808080" // gray
	}
}

// WebhookChannel implements webhook notifications
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel name
func (wc *WebhookChannel) Name() string {
	return "webhook"
}

// Send sends an alert via webhook
func (wc *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", wc.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// PredefinedAlerts contains common alert definitions for the pipeline
var PredefinedAlerts = map[string]*AlertRule{
	"breaker_open": {
		Name:        "breaker_open",
		Description: "A failure breaker has opened",
		Condition: AlertCondition{
			MetricName:  "breaker_state",
			Operator:    ">=",
			Threshold:   1.0,
			Duration:    "1m",
			Aggregation: "max",
		},
		Severity: SeverityCritical,
		Labels: map[string]string{
			"category": "resilience",
		},
		Annotations: map[string]string{
			"summary":     "Failure breaker open",
			"description": "Model calls are being rejected without reaching the dependency",
		},
		Enabled: true,
	},
	"queue_backlog_high": {
		Name:        "queue_backlog_high",
		Description: "Work queue backlog is above threshold",
		Condition: AlertCondition{
			MetricName:  "queue_depth",
			Operator:    ">",
			Threshold:   40.0,
			Duration:    "2m",
			Aggregation: "max",
		},
		Severity: SeverityWarning,
		Labels: map[string]string{
			"category": "queue",
		},
		Annotations: map[string]string{
			"summary":     "High work queue backlog",
			"description": "Queue depth has stayed above 80% of capacity for more than 2 minutes",
		},
		Enabled: true,
	},
	"fallback_rate_high": {
		Name:        "fallback_rate_high",
		Description: "Fallback results are replacing real results too often",
		Condition: AlertCondition{
			MetricName:  "fallbacks_total",
			Operator:    ">",
			Threshold:   10.0,
			Duration:    "10m",
			Aggregation: "sum",
		},
		Severity: SeverityWarning,
		Labels: map[string]string{
			"category": "resilience",
		},
		Annotations: map[string]string{
			"summary":     "High fallback rate",
			"description": "More than 10 tasks fell back to deterministic results in 10 minutes",
		},
		Enabled: true,
	},
	"timeout_rate_high": {
		Name:        "timeout_rate_high",
		Description: "Task timeouts are above threshold",
		Condition: AlertCondition{
			MetricName:  "task_executions_total",
			Operator:    ">",
			Threshold:   5.0,
			Duration:    "5m",
			Aggregation: "sum",
		},
		Severity: SeverityWarning,
		Labels: map[string]string{
			"category": "queue",
			"status":   "timeout",
		},
		Annotations: map[string]string{
			"summary":     "High task timeout rate",
			"description": "More than 5 queued tasks hit their per-item timeout in 5 minutes",
		},
		Enabled: true,
	},
	"archive_write_failures": {
		Name:        "archive_write_failures",
		Description: "Result archive writes are failing",
		Condition: AlertCondition{
			MetricName:  "archive_operations_total",
			Operator:    ">",
			Threshold:   5.0,
			Duration:    "5m",
			Aggregation: "sum",
		},
		Severity: SeverityWarning,
		Labels: map[string]string{
			"category": "archive",
			"status":   "error",
		},
		Annotations: map[string]string{
			"summary":     "Result archive degraded",
			"description": "Redis archive writes have been failing; results remain in memory only",
		},
		Enabled: true,
	},
}
