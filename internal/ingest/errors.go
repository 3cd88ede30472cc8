package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection aborts a run before any file is touched.
	ErrConnection = errors.New("connection error")
	// ErrRunInProgress is returned when a run is requested while another one is active or queued.
	ErrRunInProgress = errors.New("a run is already in progress")
)

// Stage names the step of the per-file pipeline that failed.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StageAnalyze Stage = "analyze"
	StagePersist Stage = "persist"
	StageDelete  Stage = "delete"
)

// FileError is the failure of one file. It never aborts the run.
type FileError struct {
	Stage     Stage
	Directory string
	File      string
	Err       error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Stage, e.Directory, e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
