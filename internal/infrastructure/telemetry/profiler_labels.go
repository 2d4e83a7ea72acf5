package telemetry

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/grafana/pyroscope-go"
)

const maxLabelValueLength = 128

// Per-entity identifiers explode the profile series count and are dropped
var highCardinalityLabels = map[string]struct{}{
	"listing_id":  {},
	"sale_id":     {},
	"user_id":     {},
	"sync_job_id": {},
	"job_id":      {},
	"event_id":    {},
	"request_id":  {},
	"trace_id":    {},
	"span_id":     {},
}

// WithProfilingLabels runs fn with pprof labels attached so its CPU samples can
// be filtered by the given dimensions. With no usable labels fn runs as is.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// OperationLabels tags an operation plus any extra dimensions
func OperationLabels(operation string, extra map[string]string) map[string]string {
	labels := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		labels[k] = v
	}
	labels["operation"] = operation
	return labels
}

// ComponentLabels tags a long running component such as a worker pool
func ComponentLabels(component string, extra map[string]string) map[string]string {
	labels := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		labels[k] = v
	}
	labels["component"] = component
	return labels
}

// sanitizeLabels flattens labels into sorted key/value pairs
func sanitizeLabels(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, k := range keys {
		key := toSnakeCase(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if _, drop := highCardinalityLabels[key]; drop {
			continue
		}
		value := strings.TrimSpace(labels[k])
		if value == "" {
			continue
		}
		if len(value) > maxLabelValueLength {
			value = value[:maxLabelValueLength]
		}
		pairs = append(pairs, key, value)
	}
	return pairs
}

func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && !unicode.IsUpper(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
