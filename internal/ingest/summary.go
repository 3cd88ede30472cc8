package ingest

import "time"

// DirectorySummary counts the files of one directory.
type DirectorySummary struct {
	Name        string `json:"name"`
	MachineType string `json:"machine_type"`
	Processed   int    `json:"processed"`
	Errors      int    `json:"errors"`
}

// RunSummary is the outcome of one ingestion run.
type RunSummary struct {
	RunID       string             `json:"run_id"`
	Started     time.Time          `json:"started"`
	Finished    time.Time          `json:"finished"`
	Directories []DirectorySummary `json:"directories"`
	Processed   int                `json:"processed"`
	Errors      int                `json:"errors"`
	// Failure is set when the run was aborted as a whole.
	Failure string `json:"failure,omitempty"`
}

// OK reports whether the run finished without a single error.
func (r RunSummary) OK() bool { return r.Errors == 0 }

// Duration is the wall time of the run.
func (r RunSummary) Duration() time.Duration { return r.Finished.Sub(r.Started) }

func (r *RunSummary) add(d DirectorySummary) {
	r.Directories = append(r.Directories, d)
	r.Processed += d.Processed
	r.Errors += d.Errors
}
