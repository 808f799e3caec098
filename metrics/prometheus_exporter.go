package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// WriteText renders every metric in the registry in the Prometheus text
// exposition format, sorted by name for deterministic output. Counters and
// gauges emit a single sample; histograms emit _count/_sum plus
// _min/_max/_mean once at least one value has been observed. The CLI dumps
// this at the end of a run when trace logging is enabled, so a run's solver
// and explorer counters can be inspected (or scraped from the log) without
// standing up an HTTP endpoint.
func WriteText(w io.Writer, r *Registry, namespace string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		promName := promName(namespace, name)
		writeHeader(&b, promName, "counter", name)
		fmt.Fprintf(&b, "%s %d\n", promName, c.Value())
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		promName := promName(namespace, name)
		writeHeader(&b, promName, "gauge", name)
		fmt.Fprintf(&b, "%s %d\n", promName, g.Value())
	}

	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		promName := promName(namespace, name)
		writeHeader(&b, promName, "summary", name)
		fmt.Fprintf(&b, "%s_count %d\n", promName, h.Count())
		fmt.Fprintf(&b, "%s_sum %s\n", promName, formatFloat(h.Sum()))
		if h.Count() > 0 {
			fmt.Fprintf(&b, "%s_min %s\n", promName, formatFloat(h.Min()))
			fmt.Fprintf(&b, "%s_max %s\n", promName, formatFloat(h.Max()))
			fmt.Fprintf(&b, "%s_mean %s\n", promName, formatFloat(h.Mean()))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// promName converts a dot-separated metric name to Prometheus format: dots
// and dashes become underscores, and the namespace prefix is prepended.
func promName(namespace, name string) string {
	sanitized := strings.ReplaceAll(name, ".", "_")
	sanitized = strings.ReplaceAll(sanitized, "-", "_")
	if namespace != "" {
		return namespace + "_" + sanitized
	}
	return sanitized
}

func writeHeader(b *strings.Builder, promName, metricType, description string) {
	fmt.Fprintf(b, "# HELP %s %s\n", promName, description)
	fmt.Fprintf(b, "# TYPE %s %s\n", promName, metricType)
}

// formatFloat formats a float64 for Prometheus output, handling special values.
func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	if math.IsInf(v, -1) {
		return "-Inf"
	}
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

// sortedKeys returns a sorted list of keys from a map of any metric type.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
