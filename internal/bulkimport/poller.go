package bulkimport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/logging"
)

// DefaultPollInterval is how often job status is re-checked.
const DefaultPollInterval = 10 * time.Second

// Poller waits for import jobs to reach a terminal state.
type Poller struct {
	client   Client
	interval time.Duration
	log      *logging.Logger
}

// NewPoller builds a poller. A zero interval uses DefaultPollInterval.
func NewPoller(client Client, interval time.Duration, log *logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Poller{client: client, interval: interval, log: log}
}

// Wait polls jobID until it completes or fails. A failed job surfaces as
// ErrImportJob; cancellation surfaces as the context error.
func (p *Poller) Wait(ctx context.Context, jobID string) (JobStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.client.Describe(ctx, jobID)
		if err != nil {
			return JobStatus{}, fmt.Errorf("describing job %s: %w", jobID, err)
		}

		if status.State.Terminal() {
			if err := status.Err(); err != nil {
				return status, err
			}
			return status, nil
		}

		p.log.Debug(ctx, "import job in progress",
			zap.String("job_id", jobID),
			zap.String("state", string(status.State)),
			zap.Int("progress", status.Progress),
			zap.Int64("imported_rows", status.ImportedRows),
		)

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
