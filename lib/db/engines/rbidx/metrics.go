package rbidx

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// opMetrics counts the operations of one index. Every index owns its own
// metrics set, so several indexes for the same set name can coexist (e.g.
// in tests).
type opMetrics struct {
	set *metrics.Set

	sets        *metrics.Counter
	setIfUnsets *metrics.Counter
	gets        *metrics.Counter
	misses      *metrics.Counter
	has         *metrics.Counter
	deletes     *metrics.Counter
	scans       *metrics.Counter
	saves       *metrics.Counter
	loads       *metrics.Counter
}

func newOpMetrics(setName string, entries func() float64) *opMetrics {
	s := metrics.NewSet()
	op := func(name string) *metrics.Counter {
		return s.NewCounter(fmt.Sprintf(`rbkv_ops_total{set=%q,op=%q}`, setName, name))
	}

	m := &opMetrics{
		set:         s,
		sets:        op("set"),
		setIfUnsets: op("set_if_unset"),
		gets:        op("get"),
		misses:      s.NewCounter(fmt.Sprintf(`rbkv_get_misses_total{set=%q}`, setName)),
		has:         op("has"),
		deletes:     op("delete"),
		scans:       op("scan"),
		saves:       op("save"),
		loads:       op("load"),
	}
	s.NewGauge(fmt.Sprintf(`rbkv_entries{set=%q}`, setName), entries)
	return m
}
