// Package ingest runs the machine log pipeline: fetch every log file from the
// source, parse and analyze it, sync the session and optionally delete the file.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"cu-log-sync/config"
	"cu-log-sync/internal/analysis"
	"cu-log-sync/internal/parse"
	"cu-log-sync/internal/source"
	"cu-log-sync/internal/store"
)

// Service orchestrates ingestion runs and schedules them.
type Service struct {
	source   source.Source
	store    store.Store
	metrics  *Metrics
	logger   *slog.Logger
	schedule Schedule

	runOnStart  bool
	deleteAfter bool
	workers     int
	logLoc      *time.Location
	// seen maps "<directory>/<file>" to the fingerprint of its last synced content.
	// It is nil when files are deleted after processing or dedupe is disabled.
	seen *cache.Cache
	now  func() time.Time

	runMu   sync.Mutex
	running atomic.Bool
	trigger chan struct{}

	lastMu sync.RWMutex
	last   *RunSummary
}

// NewService creates and initializes a new ingest service.
func NewService(cfg *config.Config, src source.Source, st store.Store, metrics *Metrics, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		var err error
		if metrics, err = NewMetrics(); err != nil {
			return nil, err
		}
	}

	schedule, err := NewSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	logLoc, err := time.LoadLocation(cfg.Ingest.LogTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid log timezone %q: %w", cfg.Ingest.LogTimezone, err)
	}

	s := &Service{
		source:      src,
		store:       st,
		metrics:     metrics,
		logger:      logger.With("component", "ingest"),
		schedule:    schedule,
		runOnStart:  cfg.Schedule.RunOnStart == nil || *cfg.Schedule.RunOnStart,
		deleteAfter: cfg.Ingest.DeleteAfterProcessing,
		workers:     cfg.Ingest.Workers,
		logLoc:      logLoc,
		now:         time.Now,
		trigger:     make(chan struct{}, 1),
	}
	if !s.deleteAfter && cfg.Ingest.DedupeTTLMinutes > 0 {
		ttl := time.Duration(cfg.Ingest.DedupeTTLMinutes) * time.Minute
		s.seen = cache.New(ttl, 2*ttl)
	}
	return s, nil
}

// Metrics returns the collectors updated by the service.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Run runs the scheduler until ctx is done. The next activation is only computed
// once the previous run has finished, so runs never overlap.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("starting ingest service", "schedule", s.schedule.String(), "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.runLogged(ctx)
	}

	for {
		next := s.schedule.Next(s.now())
		if next.IsZero() {
			s.logger.Error("schedule has no further activation, stopping")
			return
		}
		s.logger.Info("next run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("ingest service shutting down")
			return
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			s.logger.Info("manual run requested")
		}
		s.runLogged(ctx)
	}
}

// Trigger asks the scheduler for an immediate run. Requests made while a run is
// active or already queued are rejected with ErrRunInProgress.
func (s *Service) Trigger() error {
	if s.running.Load() {
		return ErrRunInProgress
	}
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return ErrRunInProgress
	}
}

// LastRun returns the summary of the most recent run, if any.
func (s *Service) LastRun() (RunSummary, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return RunSummary{}, false
	}
	return *s.last, true
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool { return s.running.Load() }

func (s *Service) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("run failed", "error", err)
	}
}

// RunOnce performs a single ingestion run over every recognised directory.
// Only connection problems abort the run; file failures are counted in the summary.
func (s *Service) RunOnce(ctx context.Context) (summary RunSummary, err error) {
	if !s.runMu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	summary = RunSummary{RunID: uuid.NewString(), Started: s.now()}
	logger := s.logger.With("run_id", summary.RunID)
	logger.Info("executing ingestion run")

	defer func() {
		summary.Finished = s.now()
		if err != nil {
			summary.Failure = err.Error()
			if summary.Errors == 0 {
				summary.Errors = 1
			}
		}
		s.finish(logger, summary)
	}()

	if err := s.source.Connect(ctx); err != nil {
		return summary, fmt.Errorf("%w: source: %w", ErrConnection, err)
	}
	defer func() {
		if cerr := s.source.Close(); cerr != nil {
			logger.Warn("failed to close source", "error", cerr)
		}
	}()

	if err := s.store.Ping(ctx); err != nil {
		return summary, fmt.Errorf("%w: database: %w", ErrConnection, err)
	}

	dirs, err := s.source.ListDirectories(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if len(dirs) == 0 {
		logger.Error("no configured directory found on the source")
		summary.Errors++
		summary.Failure = "no configured directory found on the source"
		return summary, nil
	}

	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		summary.add(s.processDirectory(ctx, logger, dir))
	}
	return summary, ctx.Err()
}

func (s *Service) finish(logger *slog.Logger, summary RunSummary) {
	s.metrics.observeRun(summary)

	s.lastMu.Lock()
	s.last = &summary
	s.lastMu.Unlock()

	logger.Info("ingestion run finished",
		"ok", summary.OK(),
		"processed", summary.Processed,
		"errors", summary.Errors,
		"directories", len(summary.Directories),
		"duration", summary.Duration().Round(time.Millisecond),
	)
}

func (s *Service) processDirectory(ctx context.Context, logger *slog.Logger, dir config.Directory) DirectorySummary {
	ds := DirectorySummary{Name: dir.Name, MachineType: dir.MachineType}
	dlog := logger.With("directory", dir.Name)

	files, err := s.source.ListFiles(ctx, dir.Name)
	if err != nil {
		dlog.Error("failed to list files", "error", err)
		s.metrics.fileFailed(dir.Name, StageFetch)
		ds.Errors++
		dlog.Info("directory finished", "machine_type", dir.MachineType, "processed", ds.Processed, "errors", ds.Errors)
		return ds
	}
	dlog.Info("processing directory", "files", len(files), "machine_type", dir.MachineType)

	pool := NewWorkerPool(s.workers, func(ctx context.Context, job fileJob) error {
		return s.processFile(ctx, dlog, job)
	}, dlog)
	pool.Start(ctx)
	for _, name := range files {
		if !pool.Dispatch(ctx, fileJob{Directory: dir.Name, MachineType: dir.MachineType, File: name}) {
			break
		}
	}
	ds.Processed, ds.Errors = pool.Wait()
	dlog.Info("directory finished", "machine_type", dir.MachineType, "processed", ds.Processed, "errors", ds.Errors)
	return ds
}

// processFile runs fetch, parse, analyze, persist and delete for one file.
func (s *Service) processFile(ctx context.Context, logger *slog.Logger, job fileJob) error {
	flog := logger.With("file", job.File)

	data, err := s.source.Download(ctx, job.Directory, job.File)
	if err != nil {
		return s.fail(flog, job, StageFetch, err)
	}
	flog.Debug("downloaded file", "size", humanize.Bytes(uint64(len(data))))

	key := job.Directory + "/" + job.File
	fingerprint := fingerprintOf(data)
	if s.seen != nil {
		if prev, ok := s.seen.Get(key); ok && prev.(string) == fingerprint {
			flog.Info("file unchanged since last sync, skipping")
			s.metrics.fileProcessed(job.Directory)
			return nil
		}
	}

	events, err := parse.Parse(data, s.logLoc)
	if err != nil {
		return s.fail(flog, job, StageParse, err)
	}

	res, err := analysis.Analyze(events, job.MachineType, job.File)
	if err != nil {
		return s.fail(flog, job, StageAnalyze, err)
	}

	origin := store.Origin{MachineType: job.MachineType, Directory: job.Directory, File: job.File}
	if err := s.store.SyncSession(ctx, res, origin); err != nil {
		return s.fail(flog, job, StagePersist, err)
	}

	if s.deleteAfter {
		if err := s.source.Delete(ctx, job.Directory, job.File); err != nil {
			return s.fail(flog, job, StageDelete, err)
		}
	} else if s.seen != nil {
		s.seen.SetDefault(key, fingerprint)
	}

	flog.Info("file synced",
		"machine", res.MachineID,
		"date", res.Date.Format(time.DateOnly),
		"pieces", res.TotalPieces,
		"occupation_pct", res.OccupationRatePercent,
		"deleted", s.deleteAfter,
	)
	s.metrics.fileProcessed(job.Directory)
	return nil
}

func (s *Service) fail(logger *slog.Logger, job fileJob, stage Stage, err error) error {
	fe := &FileError{Stage: stage, Directory: job.Directory, File: job.File, Err: err}
	if errors.Is(err, parse.ErrNoEvents) || errors.Is(err, analysis.ErrNoCompletions) {
		logger.Warn("file skipped, kept on source", "stage", stage, "reason", err)
	} else {
		logger.Error("file failed, kept on source", "stage", stage, "error", err)
	}
	s.metrics.fileFailed(job.Directory, stage)
	return fe
}

func fingerprintOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
