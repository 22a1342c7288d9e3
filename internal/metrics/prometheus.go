package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redemption outcome labels.
const (
	OutcomeWon           = "won"
	OutcomeInvalidFormat = "invalid_format"
	OutcomeNotFound      = "not_found"
	OutcomeAlreadyUsed   = "already_used"
	OutcomeExhausted     = "exhausted"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

var (
	CodesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiptop_codes_generated_total",
		Help: "Total prize codes generated and stored",
	})

	CodeGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiptop_code_generation_duration_seconds",
		Help:    "Time to generate and store a code batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiptop_redemptions_total",
		Help: "Redemption attempts by outcome",
	}, []string{"outcome"})

	RedemptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiptop_redemption_duration_seconds",
		Help:    "Time to process a redemption attempt",
		Buckets: prometheus.DefBuckets,
	})

	GainRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiptop_gain_remaining",
		Help: "Remaining stock per gain",
	}, []string{"gain"})

	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiptop_login_failures_total",
		Help: "Total failed login attempts",
	})

	MailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiptop_mails_total",
		Help: "Outbound emails by template and status",
	}, []string{"template", "status"})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiptop_sse_clients",
		Help: "Connected live-feed clients",
	})
)

func AddCodesGenerated(count int, duration time.Duration) {
	if count > 0 {
		CodesGenerated.Add(float64(count))
	}
	CodeGenerationDuration.Observe(duration.Seconds())
}

func ObserveRedemption(outcome string, duration time.Duration) {
	label := strings.TrimSpace(outcome)
	if label == "" {
		label = OutcomeError
	}
	Redemptions.WithLabelValues(label).Inc()
	RedemptionDuration.Observe(duration.Seconds())
}

func SetGainRemaining(gain string, remaining int) {
	label := strings.TrimSpace(gain)
	if label == "" {
		label = "unknown"
	}
	if remaining < 0 {
		remaining = 0
	}
	GainRemaining.WithLabelValues(label).Set(float64(remaining))
}

func IncLoginFailure() {
	LoginFailures.Inc()
}

func IncMail(template string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	MailsSent.WithLabelValues(template, status).Inc()
}

func SetSSEClients(count int) {
	if count < 0 {
		count = 0
	}
	SSEClients.Set(float64(count))
}
