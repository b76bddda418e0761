package health

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteTextfile exports the results for the node_exporter textfile
// collector.
func WriteTextfile(path string, results []Result) error {
	reg := prometheus.NewRegistry()

	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redelk_service_healthy",
		Help: "1 if the service check passed, 0 otherwise.",
	}, []string{"service", "container", "check"})
	running := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redelk_container_running",
		Help: "1 if the container is running.",
	}, []string{"service", "container"})
	level := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redelk_health_status",
		Help: "Overall status: 0 ok, 1 warning, 2 critical.",
	})
	healthy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redelk_services_healthy",
		Help: "Number of healthy services.",
	})
	total := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redelk_services_total",
		Help: "Number of checked services.",
	})
	reg.MustRegister(up, running, level, healthy, total)

	for _, r := range results {
		up.WithLabelValues(r.Name, r.Container, string(r.Check)).Set(boolValue(r.Healthy()))
		running.WithLabelValues(r.Name, r.Container).Set(boolValue(r.Status == "running"))
	}
	s := Summarize(results)
	level.Set(float64(s.Level))
	healthy.Set(float64(s.Healthy))
	total.Set(float64(s.Total))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
