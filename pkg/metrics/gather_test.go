package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// findSeries returns the first series of name carrying every label pair in kv.
func findSeries(mfs []*dto.MetricFamily, name string, kv ...string) (*dto.Metric, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return nil, fmt.Errorf("metric %q not gathered", name)
	}
	for _, m := range mf.GetMetric() {
		if hasLabels(m, kv) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("metric %q has no series %v", name, kv)
}

func hasLabels(m *dto.Metric, kv []string) bool {
	for i := 0; i+1 < len(kv); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == kv[i] && lp.GetValue() == kv[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, kv ...string) (float64, error) {
	m, err := findSeries(mfs, name, kv...)
	if err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}
