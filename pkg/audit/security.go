// Package audit provides security audit logging for SIEM consumption.
// Security-relevant events of the SQL engine are logged as structured JSON
// under a dedicated logger namespace.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a parameter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventSecurityRejection is logged when the static check blocks a query.
	EventSecurityRejection SecurityEventType = "security_rejection"
	// EventParameterValidation is logged when parameter validation fails.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
	// EventQueryExecution is logged for executed queries (high volume, opt-in).
	EventQueryExecution SecurityEventType = "query_execution"
)

type clientIPKey struct{}

// WithClientIP stores the caller address for later audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// SecurityEvent is an auditable security event with the context needed for
// SIEM ingestion.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Backend   string            `json:"backend"`
	TaskID    string            `json:"task_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// RejectionDetails summarizes a blocked query.
type RejectionDetails struct {
	RiskLevel  string   `json:"risk_level"`
	Violations []string `json:"violations"`
	SQL        string   `json:"sql"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit"
// namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(ctx context.Context, typ SecurityEventType, backend, taskID, severity string, details any) (SecurityEvent, string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: typ,
		Backend:   backend,
		TaskID:    taskID,
		ClientIP:  ClientIPFromContext(ctx),
		Details:   details,
		Severity:  severity,
	}
	// Marshaling known types does not fail.
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a parameter value libinjection classified as
// SQL injection. Logged at ERROR with "critical" severity for alerting.
//
//	auditor.LogInjectionAttempt(ctx, "reporting", taskID,
//	    audit.SQLInjectionDetails{
//	        ParamName:   "search",
//	        ParamValue:  "'; DROP TABLE users--",
//	        Fingerprint: "s&1c",
//	    })
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, backend, taskID string, details SQLInjectionDetails) {
	details.ParamValue = logging.TruncateString(details.ParamValue, logging.MaxQueryLogLength)
	event, eventJSON := a.event(ctx, EventSQLInjectionAttempt, backend, taskID, "critical", details)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("backend", backend),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogRejection records a query blocked by the static security check.
// CRITICAL verdicts are logged at ERROR, everything else at WARN.
func (a *SecurityAuditor) LogRejection(ctx context.Context, backend, taskID, sqlText string, result *models.SecurityCheckResult) {
	severity := "warning"
	if result.RiskLevel == models.RiskCritical {
		severity = "critical"
	}
	details := RejectionDetails{
		RiskLevel:  result.RiskLevel.String(),
		Violations: result.Violations,
		SQL:        logging.SanitizeQuery(logging.TruncateString(sqlText, 500)),
	}
	event, eventJSON := a.event(ctx, EventSecurityRejection, backend, taskID, severity, details)

	fields := []zap.Field{
		zap.String("event_json", eventJSON),
		zap.String("backend", backend),
		zap.String("risk_level", details.RiskLevel),
		zap.Int("violations", len(details.Violations)),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", severity),
	}
	if severity == "critical" {
		a.logger.Error("Query rejected by security check", fields...)
		return
	}
	a.logger.Warn("Query rejected by security check", fields...)
}

// LogParameterValidation records a parameter validation failure. These are
// usually caller mistakes, so they are logged at WARN.
func (a *SecurityAuditor) LogParameterValidation(ctx context.Context, backend, taskID, errorMessage string) {
	event, eventJSON := a.event(ctx, EventParameterValidation, backend, taskID, "warning", map[string]string{
		"error": errorMessage,
	})

	a.logger.Warn("Parameter validation failed",
		zap.String("event_json", eventJSON),
		zap.String("backend", backend),
		zap.String("error", errorMessage),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records an executed query for the audit trail.
// This can generate high log volume in production.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, backend, taskID string, result *models.ExecutionResult) {
	event, eventJSON := a.event(ctx, EventQueryExecution, backend, taskID, "info", map[string]any{
		"query_type":        result.QueryType,
		"status":            result.Status,
		"row_count":         result.RowCount,
		"execution_time_ms": result.ExecutionTimeMs,
	})

	a.logger.Info("Query executed",
		zap.String("event_json", eventJSON),
		zap.String("backend", backend),
		zap.String("status", string(result.Status)),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	)
}
