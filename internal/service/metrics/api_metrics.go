package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    APILatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "levpair",
            Subsystem: "api",
            Name:      "latency_seconds",
            Help:      "Latency of engine API endpoints",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"endpoint"},
    )

    APIErrors = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "levpair",
            Subsystem: "api",
            Name:      "errors_total",
            Help:      "Errors by engine API endpoint",
        },
        []string{"endpoint"},
    )

    InboxRejected = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "levpair",
            Subsystem: "api",
            Name:      "outcomes_rejected_total",
            Help:      "Outcomes the API could not enqueue, by reason",
        },
        []string{"reason"},
    )
)

func Register() {
    once.Do(func() {
        prometheus.MustRegister(APILatency, APIErrors, InboxRejected)
    })
}
