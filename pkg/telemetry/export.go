package telemetry

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// WriteText writes the current metric values in the Prometheus text
// exposition format. Dots in names become underscores.
func (t *Telemetry) WriteText(ctx context.Context, w io.Writer) error {
	var rm metricdata.ResourceMetrics
	if err := t.snapshot.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("telemetry: collect: %w", err)
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			name := promName(m.Name)
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				kind := "gauge"
				if data.IsMonotonic {
					kind = "counter"
					name += "_total"
				}
				writeHeader(w, name, m.Description, kind)
				for _, dp := range data.DataPoints {
					fmt.Fprintf(w, "%s%s %d\n", name, promLabels(dp.Attributes, ""), dp.Value)
				}
			case metricdata.Sum[float64]:
				writeHeader(w, name, m.Description, "counter")
				for _, dp := range data.DataPoints {
					fmt.Fprintf(w, "%s%s %g\n", name, promLabels(dp.Attributes, ""), dp.Value)
				}
			case metricdata.Histogram[float64]:
				writeHeader(w, name, m.Description, "histogram")
				for _, dp := range data.DataPoints {
					var cumulative uint64
					for i, bound := range dp.Bounds {
						cumulative += dp.BucketCounts[i]
						fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(dp.Attributes, fmt.Sprintf("%g", bound)), cumulative)
					}
					fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(dp.Attributes, "+Inf"), dp.Count)
					fmt.Fprintf(w, "%s_sum%s %g\n", name, promLabels(dp.Attributes, ""), dp.Sum)
					fmt.Fprintf(w, "%s_count%s %d\n", name, promLabels(dp.Attributes, ""), dp.Count)
				}
			}
		}
	}
	return nil
}

// Counter returns the sum of an int64 counter across the data points whose
// attributes include every pair in match.
func (t *Telemetry) Counter(ctx context.Context, name string, match ...attribute.KeyValue) (int64, error) {
	var rm metricdata.ResourceMetrics
	if err := t.snapshot.Collect(ctx, &rm); err != nil {
		return 0, fmt.Errorf("telemetry: collect: %w", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, match) {
					total += dp.Value
				}
			}
		}
	}
	return total, nil
}

func hasAll(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

func writeHeader(w io.Writer, name, help, kind string) {
	if help != "" {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	}
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func promLabels(set attribute.Set, le string) string {
	var pairs []string
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		pairs = append(pairs, fmt.Sprintf("%s=%q", promName(string(kv.Key)), kv.Value.Emit()))
	}
	sort.Strings(pairs)
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=%q", le))
	}
	if len(pairs) == 0 {
		return ""
	}
	return "{" + strings.Join(pairs, ",") + "}"
}
