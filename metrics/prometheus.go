package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TaskRuns           *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	RunnerFatal        prometheus.Counter
	RunAttempts        prometheus.Counter
	ChallengesAdvanced *prometheus.CounterVec
	WalletCredits      *prometheus.CounterVec
	WalletCreditAmount prometheus.Counter
	UnpaidAwards       *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
}

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midnight_task_runs_total",
			Help: "Total number of task executions by outcome",
		}, []string{"task", "status"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "midnight_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"task"}),
		RunnerFatal: factory.NewCounter(prometheus.CounterOpts{
			Name: "midnight_runner_fatal_total",
			Help: "Total number of runner invocations that failed as a whole",
		}),
		RunAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "midnight_run_attempts_total",
			Help: "Total number of runner invocations including retries",
		}),
		ChallengesAdvanced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "challenges_advanced_total",
			Help: "Total number of challenge status transitions driven by the pipeline",
		}, []string{"to"}),
		WalletCredits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_credits_total",
			Help: "Total number of wallet credit attempts by outcome",
		}, []string{"status"}),
		WalletCreditAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_credited_usd_total",
			Help: "Total USD credited to wallets",
		}),
		UnpaidAwards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "awards_unpaid_total",
			Help: "Total number of awards a completed challenge could not pay, by reason",
		}, []string{"reason"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications by type and outcome",
		}, []string{"type", "status"}),
	}
}

func (m *Metrics) ObserveTask(task string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.TaskRuns.WithLabelValues(task, status).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func (m *Metrics) IncRunnerFatal() {
	m.RunnerFatal.Inc()
}

func (m *Metrics) IncRunAttempt() {
	m.RunAttempts.Inc()
}

func (m *Metrics) IncChallengeAdvanced(to string) {
	m.ChallengesAdvanced.WithLabelValues(to).Inc()
}

func (m *Metrics) IncWalletCredit(status string) {
	m.WalletCredits.WithLabelValues(status).Inc()
}

func (m *Metrics) AddWalletCreditAmount(usd float64) {
	m.WalletCreditAmount.Add(usd)
}

func (m *Metrics) AddUnpaidAwards(reason string, n int) {
	m.UnpaidAwards.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) IncNotification(kind, status string) {
	m.Notifications.WithLabelValues(kind, status).Inc()
}
