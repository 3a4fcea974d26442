package metrics_fx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"subyield/pkg/middleware"
)

var Module = fx.Provide(
	provideRegistry,
	func(r *prometheus.Registry) prometheus.Registerer { return r },
	func(r *prometheus.Registry) prometheus.Gatherer { return r },
	middleware.MustNewHTTPMetrics,
)

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
