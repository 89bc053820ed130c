package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.PhaseStarted("S1901M")
	m.MessageDrafted(game.France)
	m.MessageDrafted(game.France)
	m.MessageDropped(game.England)
	m.AgentFailure(game.England, OpDraftMessage)
	m.OrdersSubmitted(game.France, 3)
	m.PhaseCompleted("S1901M", 2*time.Second)
	m.CheckpointWritten()
	m.CheckpointFailed()

	require.Equal(t, 1.0, testutil.ToFloat64(m.PhasesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PhasesProcessed))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("FRANCE", "sent")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("ENGLAND", "dropped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.AgentFailures.WithLabelValues("ENGLAND", "draft_message")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.Orders.WithLabelValues("FRANCE")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints.WithLabelValues("failed")))
	require.Equal(t, 1, testutil.CollectAndCount(m.PhaseDuration))

	t.Run("separate registries do not collide", func(t *testing.T) {
		require.NotPanics(t, func() { NewPrometheus(prometheus.NewRegistry()) })
	})
}

func TestWriterPhaseRecords(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "run-1")
	require.NoError(t, err)

	start := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	records := []PhaseRecord{
		{Step: 1, Phase: "S1901M", NextPhase: "F1901M", Messages: 4, Dropped: 1, Orders: 9, Bucket: "2025_03_01_14", StartTime: start, Duration: 1500 * time.Millisecond},
		{Step: 2, Phase: "F1901M", NextPhase: "W1901A", AgentFailures: 2, Bucket: "2025_03_01_14", StartTime: start.Add(time.Minute), Duration: time.Second},
	}
	require.NoError(t, w.WritePhaseRecords(records))

	f, err := os.Open(filepath.Join(w.Dir(), PhaseRecordsFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	require.Equal(t, "step", rows[0][0])
	require.Equal(t, []string{"1", "S1901M", "F1901M", "4", "1", "0", "9", "2025_03_01_14", "2025-03-01T14:00:00Z", "1.5s"}, rows[1])
	require.Equal(t, "2", rows[2][5])
}

func TestDummyCollector(t *testing.T) {
	c := NewDummyCollector()
	require.NotPanics(t, func() {
		c.PhaseStarted("S1901M")
		c.AgentFailure(game.France, OpDecideOrders)
		c.PhaseCompleted("S1901M", time.Second)
	})
}
