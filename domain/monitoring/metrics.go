package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue depth metrics
	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ezsign_queue_jobs",
		Help: "Number of jobs per queue and status",
	}, []string{"queue", "status"})

	DeadLettersPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ezsign_dead_letters_pending",
		Help: "Pending dead letter entries per source queue",
	}, []string{"queue"})

	// Worker pool throughput, sampled from in-process counters
	PoolJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ezsign_pool_jobs",
		Help: "Jobs handled per worker pool by outcome since start",
	}, []string{"pool", "outcome"})
)
