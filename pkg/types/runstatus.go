package types

import "time"

// RunStage is the replication stage an object has reached within a run.
type RunStage string

const (
	StagePreparing  RunStage = "PREPARING"
	StageInProgress RunStage = "IN_PROGRESS"
	StageImporting  RunStage = "IMPORTING"
	StageSuccessful RunStage = "SUCCESSFUL"
)

// MetricUnknown marks an import metric whose upstream source was unavailable.
const MetricUnknown int64 = -1

// ImportMetadata carries the final import metrics for one (object, run).
type ImportMetadata struct {
	RowCount      int64   `json:"rowCount"`
	ColumnCount   int64   `json:"columnCount"`
	ImportSeconds float64 `json:"importSeconds"`
	BytesWritten  int64   `json:"bytesWritten"`
}

// UnknownImportMetadata returns metadata with every metric marked unknown.
func UnknownImportMetadata() ImportMetadata {
	return ImportMetadata{
		RowCount:      MetricUnknown,
		ColumnCount:   MetricUnknown,
		ImportSeconds: float64(MetricUnknown),
		BytesWritten:  MetricUnknown,
	}
}

// RunStatus is the per-(object, run) status document written to the object
// store. Each stage transition overwrites the whole document.
type RunStatus struct {
	Object    string          `json:"object"`
	RunID     string          `json:"runId"`
	Stage     RunStage        `json:"stage"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Metadata  *ImportMetadata `json:"metadata,omitempty"`
}
