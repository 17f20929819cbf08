// Package otel exposes the engine's counters as OpenTelemetry observable
// instruments. Values are pulled from a snapshot on each collection
// callback, so the engine's hot paths stay on plain atomics.
package otel

import (
	"context"
	"errors"
	"fmt"

	authkit "github.com/authkit-dev/authkit"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authkit.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   authkit.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authkit.MetricLoginSuccess, "authkit_login_success_total", "Completed logins."},
	{authkit.MetricLoginFailure, "authkit_login_failure_total", "Credential-stage login failures."},
	{authkit.MetricChallengeIssued, "authkit_challenge_issued_total", "Two-factor handshakes started."},
	{authkit.MetricOTPIssued, "authkit_otp_issued_total", "One-time codes generated."},
	{authkit.MetricOTPInvalid, "authkit_otp_invalid_total", "Missing, expired, or mismatched codes."},
	{authkit.MetricOTPExhausted, "authkit_otp_exhausted_total", "Codes that burned all attempts."},
	{authkit.MetricRefreshSuccess, "authkit_refresh_success_total", "Completed refresh rotations."},
	{authkit.MetricRefreshFailure, "authkit_refresh_failure_total", "Rejected refresh tokens."},
	{authkit.MetricPasswordChangeSuccess, "authkit_password_change_success_total", "Completed password changes."},
	{authkit.MetricPasswordChangeFailure, "authkit_password_change_failure_total", "Rejected password changes."},
	{authkit.MetricResetRequested, "authkit_reset_requested_total", "Password reset grants issued."},
	{authkit.MetricResetSuccess, "authkit_reset_success_total", "Completed password resets."},
	{authkit.MetricResetFailure, "authkit_reset_failure_total", "Rejected reset tokens."},
	{authkit.MetricAccountCreated, "authkit_account_created_total", "Accounts created through the engine."},
	{authkit.MetricAccountDuplicate, "authkit_account_duplicate_total", "Account creations rejected as duplicate."},
	{authkit.MetricLogout, "authkit_logout_total", "Single-token logouts."},
	{authkit.MetricLogoutAll, "authkit_logout_all_total", "Whole-account logouts."},
	{authkit.MetricSweeperRuns, "authkit_sweeper_runs_total", "Background sweep passes."},
	{authkit.MetricSweeperPurged, "authkit_sweeper_purged_total", "Records removed by the sweeper."},
}

type observedCounter struct {
	id         authkit.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers observable counters on a meter and feeds them from
// engine snapshots.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, engine *authkit.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+1)
	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authkit_audit_dropped_total",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
