// Package metrics holds the pipeline counters and the derived health gauge.
// Aggregators are plain injectable values, owned by the loop that mutates
// them, so tests can assert on isolated instances.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Health is the binary-ish liveness signal derived from the counters.
type Health string

const (
	HealthStarting  Health = "starting"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Exposer is what the metrics HTTP listener needs from an aggregator.
type Exposer interface {
	PrometheusText() string
	SnapshotJSON() any
	Health() Health
}

// splitSourceKey splits a "name::type" metrics dimension.
func splitSourceKey(key string) (name, sourceType string) {
	parts := strings.SplitN(key, "::", 2)
	name = parts[0]
	if len(parts) == 2 {
		sourceType = parts[1]
	}
	return name, sourceType
}

// escapeLabel escapes a Prometheus label value.
func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}

type promBuilder struct {
	sb strings.Builder
}

func (b *promBuilder) counter(name string, value int64) {
	fmt.Fprintf(&b.sb, "# TYPE %s counter\n%s %d\n", name, name, value)
}

func (b *promBuilder) gauge(name string, value int64) {
	fmt.Fprintf(&b.sb, "# TYPE %s gauge\n%s %d\n", name, name, value)
}

// bySource emits one labeled series per map entry, with a stable order.
func (b *promBuilder) bySource(name string, values map[string]int64, withType bool) {
	if len(values) == 0 {
		return
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(&b.sb, "# TYPE %s counter\n", name)
	for _, k := range keys {
		if withType {
			src, srcType := splitSourceKey(k)
			fmt.Fprintf(&b.sb, "%s{source=\"%s\",source_type=\"%s\"} %d\n", name, escapeLabel(src), escapeLabel(srcType), values[k])
		} else {
			fmt.Fprintf(&b.sb, "%s{source=\"%s\"} %d\n", name, escapeLabel(k), values[k])
		}
	}
}

func (b *promBuilder) String() string { return b.sb.String() }

func upValue(h Health) int64 {
	if h == HealthHealthy {
		return 1
	}
	return 0
}

func incMap(m map[string]int64, key string, n int64) {
	if key == "" || key == "::" {
		return
	}
	m[key] += n
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var _ Exposer = (*Producer)(nil)
var _ Exposer = (*Consumer)(nil)
