// Package bulkimport submits staged segment files to the target's bulk
// import service and polls the resulting jobs to completion.
package bulkimport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrImportJob indicates a bulk import job failed server side. The
	// message carries the job id, the service's reason and any per-file
	// detail.
	ErrImportJob = errors.New("import job failed")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid bulk import configuration")
)

// JobState is the lifecycle state the import service reports for a job.
type JobState string

const (
	StatePending   JobState = "Pending"
	StateImporting JobState = "Importing"
	StateCompleted JobState = "Completed"
	StateFailed    JobState = "Failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FileStatus is the per-file progress of a job.
type FileStatus struct {
	Path         string
	ImportedRows int64
	State        JobState
	Reason       string
}

// JobStatus is one snapshot of an import job.
type JobStatus struct {
	JobID        string
	Collection   string
	State        JobState
	Progress     int
	ImportedRows int64
	TotalRows    int64
	Reason       string
	Files        []FileStatus
}

// Err converts a failed status into an ErrImportJob with file detail, or nil
// when the job did not fail.
func (s JobStatus) Err() error {
	if s.State != StateFailed {
		return nil
	}
	var details []string
	for _, f := range s.Files {
		if f.Reason != "" {
			details = append(details, fmt.Sprintf("%s: %s", f.Path, f.Reason))
		}
	}
	msg := s.Reason
	if len(details) > 0 {
		if msg != "" {
			msg += "; "
		}
		msg += strings.Join(details, "; ")
	}
	if msg == "" {
		msg = "no reason reported"
	}
	return fmt.Errorf("%w: job %s: %s", ErrImportJob, s.JobID, msg)
}

// Client is the bulk-import capability the staged loader consumes.
type Client interface {
	// Submit starts one import job over the given staged files and returns
	// the job id.
	Submit(ctx context.Context, collection string, files []string) (string, error)

	// Describe returns the current status of a job.
	Describe(ctx context.Context, jobID string) (JobStatus, error)
}
