package metrics

import (
	"sort"
	"strconv"
	"strings"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	// Metric engine
	writeCounters(&sb, m.Updates.Name(), m.Updates.Help(), m.Updates)
	writeCounters(&sb, m.Samples.Name(), m.Samples.Help(), m.Samples)
	writeCounters(&sb, m.Computes.Name(), m.Computes.Help(), m.Computes.GetAll()...)
	writeHistograms(&sb, m.ComputeLatency.Name(), m.ComputeLatency.Help(), m.ComputeLatency)
	writeHistograms(&sb, m.QueriesScored.Name(), m.QueriesScored.Help(), m.QueriesScored)

	// State synchronization
	writeCounters(&sb, m.Syncs.Name(), m.Syncs.Help(), m.Syncs.GetAll()...)
	writeHistograms(&sb, m.SyncLatency.Name(), m.SyncLatency.Help(), m.SyncLatency)
	writeGauges(&sb, m.WorldSize.Name(), m.WorldSize.Help(), m.WorldSize)
	writeCounters(&sb, m.GatherContributions.Name(), m.GatherContributions.Help(), m.GatherContributions.GetAll()...)

	// Bus
	writeCounters(&sb, m.BusEventsPublished.Name(), m.BusEventsPublished.Help(), m.BusEventsPublished.GetAll()...)
	writeHistograms(&sb, m.BusEventLatency.Name(), m.BusEventLatency.Help(), m.BusEventLatency.GetAll()...)
	writeCounters(&sb, m.BusErrors.Name(), m.BusErrors.Help(), m.BusErrors.GetAll()...)

	// HTTP
	writeCounters(&sb, m.HTTPRequests.Name(), m.HTTPRequests.Help(), m.HTTPRequests.GetAll()...)
	writeHistograms(&sb, m.HTTPDuration.Name(), m.HTTPDuration.Help(), m.HTTPDuration.GetAll()...)
	writeGauges(&sb, m.HTTPRequestsInFlight.Name(), m.HTTPRequestsInFlight.Help(), m.HTTPRequestsInFlight)

	// System
	writeGauges(&sb, m.GoroutineCount.Name(), m.GoroutineCount.Help(), m.GoroutineCount)
	writeGauges(&sb, m.MemoryUsage.Name(), m.MemoryUsage.Help(), m.MemoryUsage)
	writeGauges(&sb, m.Uptime.Name(), m.Uptime.Help(), m.Uptime)

	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	sb.WriteString("# HELP ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(help)
	sb.WriteString("\n# TYPE ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(kind)
	sb.WriteString("\n")
}

// writeCounters writes a counter family; empty families are omitted.
func writeCounters(sb *strings.Builder, name, help string, counters ...*Counter) {
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, name, help, "counter")
	for _, c := range counters {
		sb.WriteString(name)
		writeLabels(sb, c.Labels())
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatInt(c.Value(), 10))
		sb.WriteString("\n")
	}
}

// writeGauges writes a gauge family; empty families are omitted.
func writeGauges(sb *strings.Builder, name, help string, gauges ...*Gauge) {
	if len(gauges) == 0 {
		return
	}
	writeHeader(sb, name, help, "gauge")
	for _, g := range gauges {
		sb.WriteString(name)
		writeLabels(sb, g.Labels())
		sb.WriteString(" ")
		sb.WriteString(formatFloat(g.Value()))
		sb.WriteString("\n")
	}
}

// writeHistograms writes a histogram family; empty families are omitted.
func writeHistograms(sb *strings.Builder, name, help string, histograms ...*Histogram) {
	if len(histograms) == 0 {
		return
	}
	writeHeader(sb, name, help, "histogram")
	for _, h := range histograms {
		labels := h.Labels()
		buckets := h.Buckets()
		counts := h.BucketCounts()

		for i, bound := range buckets {
			writeSample(sb, name+"_bucket", withLabel(labels, "le", formatFloat(bound)), strconv.FormatInt(counts[i], 10))
		}
		writeSample(sb, name+"_bucket", withLabel(labels, "le", "+Inf"), strconv.FormatInt(counts[len(counts)-1], 10))
		writeSample(sb, name+"_sum", labels, formatFloat(h.Sum()))
		writeSample(sb, name+"_count", labels, strconv.FormatInt(h.Count(), 10))
	}
}

func writeSample(sb *strings.Builder, name string, labels map[string]string, value string) {
	sb.WriteString(name)
	writeLabels(sb, labels)
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := copyLabels(labels)
	out[key] = value
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
