package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cu-log-sync/internal/analysis"
	"cu-log-sync/internal/db"
	"cu-log-sync/internal/model"
)

const insertBatchSize = 500

// Store defines the interface for all database operations.
type Store interface {
	// SyncSession persists one analysis result as the authoritative snapshot of its
	// (machine, date) session. It either fully succeeds or leaves the database untouched.
	SyncSession(ctx context.Context, res *analysis.Result, origin Origin) error
	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, locks: newKeyedMutex()}
}

// Ping checks the database connection.
func (s *gormStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.db)
}

// SyncSession upserts the machine and session rows and replaces the session details.
// Syncs of the same session are serialized so concurrent workers never interleave.
func (s *gormStore) SyncSession(ctx context.Context, res *analysis.Result, origin Origin) error {
	unlock := s.locks.Lock(sessionKey(res.MachineID, res.Date))
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machineID, err := upsertMachine(tx, res.MachineID, origin)
		if err != nil {
			return err
		}

		sessionID, err := upsertSession(tx, machineID, res, origin.Label())
		if err != nil {
			return err
		}

		if err := clearSessionDetails(tx, sessionID); err != nil {
			return err
		}
		return insertSessionDetails(tx, sessionID, res)
	})
	if err != nil {
		return fmt.Errorf("%w: session %s on %s: %w", ErrPersistence, res.MachineID, res.Date.Format(time.DateOnly), err)
	}
	return nil
}

func sessionKey(machine string, date time.Time) string {
	return machine + "|" + date.Format(time.DateOnly)
}

func upsertMachine(tx *gorm.DB, name string, origin Origin) (int64, error) {
	machine := model.Machine{
		Name:        name,
		Type:        origin.MachineType,
		Description: origin.Description(),
		Active:      true,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "description"}),
	}).Create(&machine).Error; err != nil {
		return 0, fmt.Errorf("upsert machine %s: %w", name, err)
	}

	// The upsert does not report the id of an updated row on every driver.
	var stored model.Machine
	if err := tx.Select("id").Where("name = ?", name).First(&stored).Error; err != nil {
		return 0, fmt.Errorf("reload machine %s: %w", name, err)
	}
	return stored.ID, nil
}

func upsertSession(tx *gorm.DB, machineID int64, res *analysis.Result, sourceFile string) (int64, error) {
	firstPiece, lastPiece := res.FirstPieceTime, res.LastPieceTime
	session := model.Session{
		MachineID:                machineID,
		Date:                     res.Date,
		FirstPieceTime:           &firstPiece,
		LastPieceTime:            &lastPiece,
		FirstMachineStart:        res.FirstMachineStart,
		LastMachineStop:          res.LastMachineStop,
		TotalPieces:              res.TotalPieces,
		ProductionDurationHours:  res.ProductionDurationHours,
		WaitHours:                res.WaitHours,
		StopHours:                res.StopHours,
		EffectiveProductionHours: res.EffectiveProductionHours,
		OccupationRatePct:        res.OccupationRatePercent,
		WaitRatePct:              res.WaitRatePercent,
		StopRatePct:              res.StopRatePercent,
		SourceFile:               sourceFile,
	}
	if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "machine_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns(model.SessionMetricColumns),
	}).Create(&session).Error; err != nil {
		return 0, fmt.Errorf("upsert session: %w", err)
	}

	var stored model.Session
	if err := tx.Select("id").
		Where("machine_id = ? AND date = ?", machineID, res.Date).
		First(&stored).Error; err != nil {
		return 0, fmt.Errorf("reload session: %w", err)
	}
	return stored.ID, nil
}

// clearSessionDetails drops every detail row so a re-sync never appends duplicates.
func clearSessionDetails(tx *gorm.DB, sessionID int64) error {
	for _, m := range []any{&model.JobProfile{}, &model.WaitPeriod{}, &model.StopPeriod{}, &model.Piece{}} {
		if err := tx.Where("session_id = ?", sessionID).Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T of session %d: %w", m, sessionID, err)
		}
	}
	return nil
}

func insertSessionDetails(tx *gorm.DB, sessionID int64, res *analysis.Result) error {
	jobs := make([]model.JobProfile, 0, len(res.JobProfiles))
	for _, j := range res.JobProfiles {
		jobs = append(jobs, model.JobProfile{
			SessionID: sessionID,
			Reference: j.Reference,
			LengthMM:  j.LengthMillimeters,
			Color:     j.Color,
			Timestamp: j.Timestamp,
		})
	}

	waits := make([]model.WaitPeriod, 0, len(res.WaitPeriods))
	for _, w := range res.WaitPeriods {
		waits = append(waits, model.WaitPeriod{
			SessionID:       sessionID,
			StartTS:         w.Start,
			EndTS:           w.End,
			DurationSeconds: int(w.DurationSeconds),
		})
	}

	stops := make([]model.StopPeriod, 0, len(res.StopPeriods))
	for _, p := range res.StopPeriods {
		stops = append(stops, model.StopPeriod{
			SessionID:       sessionID,
			StartTS:         p.Start,
			EndTS:           p.End,
			DurationSeconds: int(p.DurationSeconds),
		})
	}

	pieces := make([]model.Piece, 0, len(res.PieceEvents))
	for _, p := range res.PieceEvents {
		pieces = append(pieces, model.Piece{
			SessionID:      sessionID,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			RawDetail:      p.RawDetail,
		})
	}

	if err := createAll(tx, jobs); err != nil {
		return fmt.Errorf("insert job profiles: %w", err)
	}
	if err := createAll(tx, waits); err != nil {
		return fmt.Errorf("insert wait periods: %w", err)
	}
	if err := createAll(tx, stops); err != nil {
		return fmt.Errorf("insert stop periods: %w", err)
	}
	if err := createAll(tx, pieces); err != nil {
		return fmt.Errorf("insert pieces: %w", err)
	}
	return nil
}

// createAll batch-inserts rows; gorm rejects empty slices, so those are skipped.
func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, insertBatchSize).Error
}
