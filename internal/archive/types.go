package archive

import (
	"time"

	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
)

// RunReport is the JSON document archived for each sync run.
type RunReport struct {
	Version    string           `json:"version"`
	ArchivedAt time.Time        `json:"archived_at"`
	Summary    pipeline.Summary `json:"summary"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	RunID         string `json:"run_id"`
	S3Key         string `json:"s3_key"`
	State         string `json:"state"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Processed     int    `json:"processed"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
	IssuesCreated int    `json:"issues_created"`
	StartedAt     string `json:"started_at"`
}
