// Package metrics records per-run counters and pushes them to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "dpcctl"

// Recorder holds the metrics for a single dpcctl invocation.
type Recorder struct {
	registry   *prometheus.Registry
	resources  *prometheus.CounterVec
	artifacts  *prometheus.CounterVec
	executions *prometheus.CounterVec
	duration   *prometheus.GaugeVec
}

// NewRecorder registers the run metrics on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_collected_total",
			Help:      "Resources included in an artifact, by kind.",
		}, []string{"kind"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifact publications, by outcome.",
		}, []string{"outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_executions_total",
			Help:      "Pipeline execution requests, by result.",
		}, []string{"result"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of the last run of each operation.",
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.resources, r.artifacts, r.executions, r.duration)
	return r
}

// Resources adds n collected resources of kind.
func (r *Recorder) Resources(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.resources.WithLabelValues(kind).Add(float64(n))
}

// Artifact counts one publication with the given outcome.
func (r *Recorder) Artifact(outcome string) {
	if r == nil {
		return
	}
	r.artifacts.WithLabelValues(outcome).Inc()
}

// Execution counts one pipeline execution request.
func (r *Recorder) Execution(ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	r.executions.WithLabelValues(result).Inc()
}

// Duration records how long operation took, in seconds.
func (r *Recorder) Duration(operation string, seconds float64) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(operation).Set(seconds)
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Push sends the collected metrics to a Pushgateway, grouped by project and run.
func (r *Recorder) Push(ctx context.Context, gatewayURL, project, runID string) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	if gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, namespace).
		Gatherer(r.registry).
		Grouping("project", project).
		Grouping("run_id", runID)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
