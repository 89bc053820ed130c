package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const PhaseRecordsFile = "phase_records.csv"

type Writer struct {
	baseDir string
}

// NewWriter creates baseDir/runID and writes reports there.
func NewWriter(baseDir, runID string) (*Writer, error) {
	dir := filepath.Join(baseDir, runID)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		baseDir: dir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

func (w *Writer) WritePhaseRecords(records []PhaseRecord) error {
	// Create a file
	path := filepath.Join(w.baseDir, PhaseRecordsFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create phase records file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	// Write header
	header := []string{"step", "phase", "next_phase", "messages", "dropped", "agent_failures", "orders", "bucket", "start_time", "duration"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write phase records header: %w", err)
	}

	// Write each row
	for _, record := range records {
		row := []string{
			strconv.Itoa(record.Step),
			record.Phase,
			record.NextPhase,
			strconv.Itoa(record.Messages),
			strconv.Itoa(record.Dropped),
			strconv.Itoa(record.AgentFailures),
			strconv.Itoa(record.Orders),
			record.Bucket,
			record.StartTime.Format(time.RFC3339),
			record.Duration.String(),
		}
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("failed to write phase record row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush phase records: %w", err)
	}
	return nil
}
