package metrics

import (
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/llmstxt/internal/version"
)

// NewRegistry returns a registry holding the Go runtime and process
// collectors plus an llmstxt_build_info gauge for build.
func NewRegistry(build version.Info) *prom.Registry {
	reg := prom.NewRegistry()
	info := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build of the running exporter; always 1",
		ConstLabels: prom.Labels{
			"version":    build.Version,
			"git_commit": build.GitCommit,
		},
	})
	info.Set(1)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		info,
	)
	return reg
}

// HTTPHandler serves reg in the Prometheus text or OpenMetrics format.
// Collection errors are logged and the remaining metrics still served.
func HTTPHandler(reg *prom.Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          reg,
	})
}
