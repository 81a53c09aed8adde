// Package doctor validates pollbridge configuration and the environment it
// will run in.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/pollbridge/internal/config"
	"github.com/mattjoyce/pollbridge/internal/lock"
	"github.com/mattjoyce/pollbridge/internal/log"
	"github.com/mattjoyce/pollbridge/internal/storage"
)

// Poll timeouts above this risk being cut by proxies and client timeouts.
const longPollWarnThreshold = 60 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs the static configuration checks.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateBridgeConfig(r)
	d.validateForwardConfig(r)
	d.validateJournalConfig(r)
	d.validateTelemetryConfig(r)
	d.warnExposedListener(r)
	d.warnUnresolvedEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// CheckEnvironment adds checks that touch the machine: whether the listen
// address is free, whether the journal can live where configured, and
// whether another bridge already holds the journal lock.
func (d *Doctor) CheckEnvironment(r *Result) {
	d.checkListener(r)
	d.checkJournalLocation(r)
	d.checkJournalLock(r)
	r.Valid = len(r.Errors) == 0
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if !log.ValidLevel(d.cfg.Service.LogLevel) {
		d.addError(r, "service", "service.log_level",
			fmt.Sprintf("unknown log level %q (expected debug, info, warn or error)", d.cfg.Service.LogLevel))
	}
	switch d.cfg.Service.LogFormat {
	case "json", "text":
	default:
		d.addError(r, "service", "service.log_format",
			fmt.Sprintf("unknown log format %q (expected json or text)", d.cfg.Service.LogFormat))
	}
}

func (d *Doctor) validateBridgeConfig(r *Result) {
	b := d.cfg.Bridge

	if _, _, err := net.SplitHostPort(b.Listen); err != nil {
		d.addError(r, "bridge", "bridge.listen", fmt.Sprintf("invalid listen address %q: %v", b.Listen, err))
	}

	if b.PollTimeout <= 0 {
		d.addError(r, "bridge", "bridge.poll_timeout", "poll_timeout must be positive")
	} else if b.PollTimeout > longPollWarnThreshold {
		d.addWarning(r, "bridge", "bridge.poll_timeout",
			fmt.Sprintf("poll_timeout %s is long; intermediaries may drop idle requests before the 423", b.PollTimeout))
	}

	switch {
	case b.InvocationTimeout < 0:
		d.addError(r, "bridge", "bridge.invocation_timeout", "invocation_timeout must not be negative")
	case b.InvocationTimeout == 0:
		d.addWarning(r, "bridge", "bridge.invocation_timeout",
			"invocation_timeout is unbounded; a tool call waits until the assistant cancels it")
	}

	if b.ExecutorIdleGap <= 0 {
		d.addError(r, "bridge", "bridge.executor_idle_gap", "executor_idle_gap must be positive")
	}
	if b.MaxBodyBytes <= 0 {
		d.addError(r, "bridge", "bridge.max_body_bytes", "max_body_bytes must be positive")
	}
	if b.RecentIDs <= 0 {
		d.addError(r, "bridge", "bridge.recent_ids", "recent_ids must be positive")
	}
}

func (d *Doctor) validateForwardConfig(r *Result) {
	f := d.cfg.Forward
	if !f.Enabled {
		d.addWarning(r, "forward", "forward.enabled",
			"forwarding disabled; serve fails when another bridge owns the listen address")
		return
	}
	if f.MaxInFlight < 1 {
		d.addError(r, "forward", "forward.max_in_flight", "max_in_flight must be at least 1")
	}
	if f.RequestTimeout < 0 {
		d.addError(r, "forward", "forward.request_timeout", "request_timeout must not be negative")
	}
}

func (d *Doctor) validateJournalConfig(r *Result) {
	j := d.cfg.Journal
	if j.Path == "" {
		d.addWarning(r, "journal", "journal.path", "journal disabled; inspect will have nothing to show")
		return
	}
	if j.Retention < 0 {
		d.addError(r, "journal", "journal.retention", "retention must not be negative")
	}
}

func (d *Doctor) validateTelemetryConfig(r *Result) {
	t := d.cfg.Telemetry
	if !t.Enabled {
		return
	}
	switch t.Exporter {
	case "otlp-http", "none":
	default:
		d.addError(r, "telemetry", "telemetry.exporter",
			fmt.Sprintf("unknown exporter %q (expected otlp-http or none)", t.Exporter))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		d.addError(r, "telemetry", "telemetry.sample_rate",
			fmt.Sprintf("sample_rate %v must be between 0 and 1", t.SampleRate))
	}
	if t.Exporter == "otlp-http" && t.Endpoint == "" {
		d.addError(r, "telemetry", "telemetry.endpoint", "endpoint is required for the otlp-http exporter")
	}
}

// warnExposedListener flags listen addresses reachable from other hosts. The
// dispatch endpoints carry code to execute and have no authentication.
func (d *Doctor) warnExposedListener(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.Bridge.Listen)
	if err != nil {
		return
	}
	if host == "localhost" {
		return
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return
	}
	d.addWarning(r, "bridge", "bridge.listen",
		fmt.Sprintf("listen address %q is not loopback; anyone who can reach it can run code in the executor", d.cfg.Bridge.Listen))
}

func (d *Doctor) warnUnresolvedEnvVars(r *Result) {
	fields := map[string]string{
		"bridge.listen":      d.cfg.Bridge.Listen,
		"journal.path":       d.cfg.Journal.Path,
		"telemetry.endpoint": d.cfg.Telemetry.Endpoint,
	}
	for field, v := range fields {
		if strings.Contains(v, "${") {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("value %q contains an unresolved environment variable", v))
		}
	}
}

func (d *Doctor) checkListener(r *Result) {
	ln, err := net.Listen("tcp", d.cfg.Bridge.Listen)
	if err == nil {
		_ = ln.Close()
		return
	}
	if d.cfg.Forward.Enabled {
		d.addWarning(r, "environment", "bridge.listen",
			fmt.Sprintf("%s is in use; serve will forward tool calls to the bridge listening there", d.cfg.Bridge.Listen))
		return
	}
	d.addError(r, "environment", "bridge.listen", fmt.Sprintf("cannot listen on %s: %v", d.cfg.Bridge.Listen, err))
}

func (d *Doctor) checkJournalLocation(r *Result) {
	if d.cfg.Journal.Path == "" {
		return
	}
	if _, err := storage.CheckLocation(d.cfg.Journal.Path); err != nil {
		d.addError(r, "environment", "journal.path", err.Error())
	}
}

func (d *Doctor) checkJournalLock(r *Result) {
	if d.cfg.Journal.Path == "" {
		return
	}
	path := lock.PathFor(d.cfg.Journal.Path)
	if _, err := os.Stat(path); err != nil {
		return
	}
	l, err := lock.AcquirePIDLock(path)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			d.addWarning(r, "environment", "journal.path",
				fmt.Sprintf("journal is in use by a running bridge: %v", err))
			return
		}
		d.addError(r, "environment", "journal.path", err.Error())
		return
	}
	_ = l.Release()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
