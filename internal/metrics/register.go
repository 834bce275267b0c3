package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// register регистрирует коллектор. Если метрика с тем же именем уже есть
// (например, второй App в тестах), возвращается существующая.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing
		}
		panic(fmt.Sprintf("metric %q already registered with another type", name))
	}
	panic(fmt.Sprintf("register metric %q: %v", name, err))
}

func registerCounter(r prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(r, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(r prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(r, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(r prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(r, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(r prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(r, opts.Name, prometheus.NewHistogram(opts))
}

func registerHistogramVec(r prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(r, opts.Name, prometheus.NewHistogramVec(opts, labels))
}
