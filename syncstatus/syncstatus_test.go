package syncstatus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	registry := prometheus.NewRegistry()
	r, err := NewReporter(registry)
	require.NoError(t, err)
	return r
}

func TestSetPhaseActivatesExactlyOnePhase(t *testing.T) {
	r := newTestReporter(t)
	r.SetPhase(PhaseHeaderSync)

	require.Equal(t, 1.0, testutil.ToFloat64(r.phase.WithLabelValues(string(PhaseHeaderSync))))
	for _, p := range []Phase{PhaseIdle, PhaseTxHashSetDownload, PhaseTxHashSetValidate, PhaseBodySync} {
		require.Equal(t, 0.0, testutil.ToFloat64(r.phase.WithLabelValues(string(p))), "phase %s should be inactive", p)
	}

	r.SetPhase(PhaseBodySync)
	require.Equal(t, 0.0, testutil.ToFloat64(r.phase.WithLabelValues(string(PhaseHeaderSync))))
	require.Equal(t, 1.0, testutil.ToFloat64(r.phase.WithLabelValues(string(PhaseBodySync))))
}

func TestSetHeaderAndTargetHeight(t *testing.T) {
	r := newTestReporter(t)
	r.SetHeaderHeight(100)
	r.SetTargetHeight(250)

	require.Equal(t, 100.0, testutil.ToFloat64(r.headerHeight))
	require.Equal(t, 250.0, testutil.ToFloat64(r.targetHeight))
}

func TestValidationProgressRecordsDoneByKind(t *testing.T) {
	r := newTestReporter(t)
	r.ValidationProgress("range_proofs", 500, 1000)
	r.ValidationProgress("kernel_signatures", 200, 2000)

	require.Equal(t, 500.0, testutil.ToFloat64(r.validationDone.WithLabelValues("range_proofs")))
	require.Equal(t, 200.0, testutil.ToFloat64(r.validationDone.WithLabelValues("kernel_signatures")))
}

func TestNewReporterRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewReporter(registry)
	require.NoError(t, err)

	_, err = NewReporter(registry)
	require.Error(t, err, "registering a second reporter against the same registry must fail")
}
