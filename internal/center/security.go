package center

import (
	"context"
	"fmt"
	"time"
)

// RetentionConfig bounds how long audit history is kept.
type RetentionConfig struct {
	RetentionDays int
}

// DefaultRetention keeps 90 days of audit history.
var DefaultRetention = RetentionConfig{RetentionDays: 90}

// RetentionResult summarizes a cleanup run.
type RetentionResult struct {
	AuditLogsDeleted  int64 `json:"auditLogsDeleted"`
	RateLimitsDeleted int64 `json:"rateLimitsDeleted"`
	RetentionDays     int   `json:"retentionDays"`
}

// PerformRetentionCleanup deletes audit entries older than the cutoff and all
// expired rate-limit windows. Idempotent: a second consecutive run deletes
// nothing. Expired one-time codes are swept in the same pass for storage
// hygiene; expiry enforcement never depends on this job.
func (s *Service) PerformRetentionCleanup(ctx context.Context, cfg RetentionConfig) (RetentionResult, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetention.RetentionDays
	}
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	auditDeleted, err := s.store.Audit().DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return RetentionResult{}, fmt.Errorf("retention: audit sweep: %w", err)
	}
	limitsDeleted, err := s.store.RateLimits().DeleteExpired(ctx, now)
	if err != nil {
		return RetentionResult{}, fmt.Errorf("retention: rate limit sweep: %w", err)
	}
	if _, err := s.store.Codes().DeleteExpired(ctx, now); err != nil {
		return RetentionResult{}, fmt.Errorf("retention: code sweep: %w", err)
	}
	if _, err := s.store.SetupCodes().DeleteExpired(ctx, now); err != nil {
		return RetentionResult{}, fmt.Errorf("retention: setup code sweep: %w", err)
	}

	return RetentionResult{
		AuditLogsDeleted:  auditDeleted,
		RateLimitsDeleted: limitsDeleted,
		RetentionDays:     cfg.RetentionDays,
	}, nil
}

// AuditLogsStats is a read-only snapshot of the audit trail.
type AuditLogsStats struct {
	TotalEntries     int64 `json:"total_entries"`
	FailuresLast24h  int64 `json:"failures_last_24h"`
	DenialsLast24h   int64 `json:"denials_last_24h"`
	ExchangesLast24h int64 `json:"exchanges_last_24h"`
}

// GetAuditLogsStats aggregates the trail without mutating it.
func (s *Service) GetAuditLogsStats(ctx context.Context) (AuditLogsStats, error) {
	now := s.now().UTC()
	since := now.Add(-24 * time.Hour)
	audit := s.store.Audit()

	total, err := audit.Count(ctx)
	if err != nil {
		return AuditLogsStats{}, err
	}
	failures, err := audit.CountSince(ctx, "", StatusFailure, since)
	if err != nil {
		return AuditLogsStats{}, err
	}
	denials, err := audit.CountSince(ctx, ActionAccessDenied, "", since)
	if err != nil {
		return AuditLogsStats{}, err
	}
	exchanges, err := audit.CountSince(ctx, ActionTokenExchange, "", since)
	if err != nil {
		return AuditLogsStats{}, err
	}
	return AuditLogsStats{
		TotalEntries:     total,
		FailuresLast24h:  failures,
		DenialsLast24h:   denials,
		ExchangesLast24h: exchanges,
	}, nil
}

// SecurityMetrics counts security-relevant failures inside a recent window.
type SecurityMetrics struct {
	WindowHours      int   `json:"window_hours"`
	AccessDenied     int64 `json:"access_denied"`
	FailedLogins     int64 `json:"failed_logins"`
	FailedExchanges  int64 `json:"failed_exchanges"`
	KillSwitchEvents int64 `json:"kill_switch_events"`
}

// GetSecurityMetrics aggregates the last hour of the audit trail.
func (s *Service) GetSecurityMetrics(ctx context.Context) (SecurityMetrics, error) {
	const windowHours = 1
	since := s.now().UTC().Add(-windowHours * time.Hour)
	audit := s.store.Audit()

	denied, err := audit.CountSince(ctx, ActionAccessDenied, "", since)
	if err != nil {
		return SecurityMetrics{}, err
	}
	failedLogins, err := audit.CountSince(ctx, ActionLogin, StatusFailure, since)
	if err != nil {
		return SecurityMetrics{}, err
	}
	failedExchanges, err := audit.CountSince(ctx, ActionTokenExchange, StatusFailure, since)
	if err != nil {
		return SecurityMetrics{}, err
	}
	killSwitches, err := audit.CountSince(ctx, ActionKillSwitch, "", since)
	if err != nil {
		return SecurityMetrics{}, err
	}
	return SecurityMetrics{
		WindowHours:      windowHours,
		AccessDenied:     denied,
		FailedLogins:     failedLogins,
		FailedExchanges:  failedExchanges,
		KillSwitchEvents: killSwitches,
	}, nil
}

// SecurityThreat is a heuristic alert derived from audit aggregates.
type SecurityThreat struct {
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Count       int64  `json:"count"`
	Description string `json:"description"`
}

// Alert thresholds over the one-hour metrics window.
const (
	deniedSpikeThreshold   = 10
	exchangeGuessThreshold = 25
	loginFailureThreshold  = 20
)

// DetectSecurityThreats flags spikes in denials and failed redemptions.
// Read-only; thresholds are deliberately coarse, tuned for moderate-traffic
// multi-tenant SSO.
func (s *Service) DetectSecurityThreats(ctx context.Context) ([]SecurityThreat, error) {
	metrics, err := s.GetSecurityMetrics(ctx)
	if err != nil {
		return nil, err
	}
	var threats []SecurityThreat
	if metrics.AccessDenied >= deniedSpikeThreshold {
		threats = append(threats, SecurityThreat{
			Kind:        "access_denied_spike",
			Severity:    "warning",
			Count:       metrics.AccessDenied,
			Description: fmt.Sprintf("%d access denials in the last hour", metrics.AccessDenied),
		})
	}
	if metrics.FailedExchanges >= exchangeGuessThreshold {
		threats = append(threats, SecurityThreat{
			Kind:        "code_guessing",
			Severity:    "critical",
			Count:       metrics.FailedExchanges,
			Description: fmt.Sprintf("%d failed code exchanges in the last hour", metrics.FailedExchanges),
		})
	}
	if metrics.FailedLogins >= loginFailureThreshold {
		threats = append(threats, SecurityThreat{
			Kind:        "login_failures",
			Severity:    "warning",
			Count:       metrics.FailedLogins,
			Description: fmt.Sprintf("%d failed logins in the last hour", metrics.FailedLogins),
		})
	}
	return threats, nil
}

// SecurityReport bundles the read-only aggregations for the admin endpoint.
type SecurityReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Stats       AuditLogsStats   `json:"stats"`
	Metrics     SecurityMetrics  `json:"metrics"`
	Threats     []SecurityThreat `json:"threats"`
}

// GenerateSecurityReport assembles stats, metrics and detected threats.
func (s *Service) GenerateSecurityReport(ctx context.Context) (SecurityReport, error) {
	stats, err := s.GetAuditLogsStats(ctx)
	if err != nil {
		return SecurityReport{}, err
	}
	metrics, err := s.GetSecurityMetrics(ctx)
	if err != nil {
		return SecurityReport{}, err
	}
	threats, err := s.DetectSecurityThreats(ctx)
	if err != nil {
		return SecurityReport{}, err
	}
	return SecurityReport{
		GeneratedAt: s.now().UTC(),
		Stats:       stats,
		Metrics:     metrics,
		Threats:     threats,
	}, nil
}
