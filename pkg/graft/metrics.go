package graft

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
)

var (
	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgraft_builds_total",
			Help: "Number of graph builds by result.",
		},
		[]string{"result"},
	)
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modelgraft_build_duration_seconds",
			Help:    "Time taken to splice and rewrite a graph.",
			Buckets: prometheus.DefBuckets,
		},
	)
	nodesRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgraft_pass_nodes_removed_total",
			Help: "Number of nodes removed by each rewrite pass.",
		},
		[]string{"pass"},
	)
	foldErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgraft_fold_errors_total",
			Help: "Number of nodes a rewrite pass failed to fold.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		buildsTotal,
		buildDuration,
		nodesRemovedTotal,
		foldErrorsTotal,
	)
}

func observeBuild(report *rewrite.Report, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	buildsTotal.WithLabelValues(result).Inc()
	buildDuration.Observe(d.Seconds())

	if report == nil {
		return
	}
	for _, p := range report.Passes {
		if removed := p.NodesBefore - p.NodesAfter; removed > 0 {
			nodesRemovedTotal.WithLabelValues(p.Pass).Add(float64(removed))
		}
	}
	foldErrorsTotal.Add(float64(len(report.FoldErrorList())))
}
