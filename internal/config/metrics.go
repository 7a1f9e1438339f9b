package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Load stages, in the order Load runs them.
const (
	stageRead     = "read"
	stageParse    = "parse"
	stageValidate = "validate"
)

var (
	loadMetricsOnce  sync.Once
	loadEvents       metric.Int64Counter
	validationIssues metric.Int64Counter
)

// loadOutcome describes where Load stopped. key is set for parse failures,
// problems for validation failures.
type loadOutcome struct {
	stage    string
	failed   bool
	key      string
	problems int
}

func outcomeFor(stage string, err error) loadOutcome {
	o := loadOutcome{stage: stage, failed: err != nil}
	var pe *ParseError
	if errors.As(err, &pe) {
		o.stage = stageParse
		o.key = pe.Key
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		o.stage = stageValidate
		o.problems = len(ve.Problems)
	}
	return o
}

func (o loadOutcome) attributes(env string) []attribute.KeyValue {
	result := "success"
	if o.failed {
		result = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("env", normalizeEnv(env)),
		attribute.String("stage", o.stage),
		attribute.String("outcome", result),
	}
	if o.key != "" {
		attrs = append(attrs, attribute.String("key", o.key))
	}
	return attrs
}

// recordConfigLoad uses the global meter provider, which is still the no-op
// provider when Load runs during process start.
func recordConfigLoad(ctx context.Context, env string, o loadOutcome) {
	loadMetricsOnce.Do(func() {
		meter := otel.Meter("secure-session-core/config")
		if c, err := meter.Int64Counter("config.load.events"); err == nil {
			loadEvents = c
		}
		if c, err := meter.Int64Counter("config.validation.problems"); err == nil {
			validationIssues = c
		}
	})
	attrs := metric.WithAttributes(o.attributes(env)...)
	if loadEvents != nil {
		loadEvents.Add(ctx, 1, attrs)
	}
	if validationIssues != nil && o.problems > 0 {
		validationIssues.Add(ctx, int64(o.problems), attrs)
	}
}

func normalizeEnv(env string) string {
	v := strings.TrimSpace(strings.ToLower(env))
	if v == "" {
		return "unknown"
	}
	return v
}
