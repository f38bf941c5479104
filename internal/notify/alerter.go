package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

const maxListedErrors = 20

// RunAlerter emails operators about runs that need attention.
type RunAlerter struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

// NewRunAlerter returns nil when there is no recipient.
func NewRunAlerter(sender EmailSender, to string, logger *logging.Logger) *RunAlerter {
	if sender == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RunAlerter{sender: sender, to: to, logger: logger.Component("notify")}
}

// RunFinished sends an alert for failed runs and runs with record failures.
func (a *RunAlerter) RunFinished(ctx context.Context, sum pipeline.Summary) {
	if a == nil || sum.Succeeded() {
		return
	}
	msg := EmailMessage{To: a.to, Subject: alertSubject(sum), Body: alertBody(sum)}
	if err := a.sender.Send(ctx, msg); err != nil {
		a.logger.Error("run alert not sent", "run_id", sum.RunID, "error", err)
	}
}

func alertSubject(sum pipeline.Summary) string {
	if sum.State == pipeline.StateFailed {
		return fmt.Sprintf("Roster sync failed during %s", sum.FailedStage)
	}
	return fmt.Sprintf("Roster sync finished with %d failed records", sum.Failed)
}

func alertBody(sum pipeline.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\nState: %s\n", sum.RunID, sum.State)
	if sum.FatalError != "" {
		fmt.Fprintf(&b, "Error: %s\n", sum.FatalError)
	}
	fmt.Fprintf(&b, "Processed: %d  Updated: %d  Failed: %d  Issues created: %d\n",
		sum.Processed, sum.Updated, sum.Failed, sum.IssuesCreated)
	fmt.Fprintf(&b, "Started: %s  Completed: %s\n",
		sum.StartedAt.Format("2006-01-02 15:04:05 MST"), sum.CompletedAt.Format("2006-01-02 15:04:05 MST"))

	if len(sum.Errors) == 0 {
		return b.String()
	}
	b.WriteString("\nRecord errors:\n")
	for i, e := range sum.Errors {
		if i == maxListedErrors {
			fmt.Fprintf(&b, "  ... and %d more\n", len(sum.Errors)-maxListedErrors)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s\n", e.Stage, e.RecordID, e.Error)
	}
	return b.String()
}
