package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRedemption(t *testing.T) {
	before := testutil.ToFloat64(Redemptions.WithLabelValues(OutcomeAlreadyUsed))
	ObserveRedemption(OutcomeAlreadyUsed, 5*time.Millisecond)
	if got := testutil.ToFloat64(Redemptions.WithLabelValues(OutcomeAlreadyUsed)); got != before+1 {
		t.Fatalf("expected counter to grow by 1, got %v -> %v", before, got)
	}
}

func TestSetGainRemaining_ClampsNegative(t *testing.T) {
	SetGainRemaining("Infuseur", -3)
	if got := testutil.ToFloat64(GainRemaining.WithLabelValues("Infuseur")); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
