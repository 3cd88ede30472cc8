package model

import "time"

// Session holds one machine's production metrics for one calendar day.
type Session struct {
	ID                       int64     `gorm:"primaryKey"`
	MachineID                int64     `gorm:"not null;uniqueIndex:idx_session_machine_date,priority:1"`
	Date                     time.Time `gorm:"type:date;not null;uniqueIndex:idx_session_machine_date,priority:2"`
	FirstPieceTime           *time.Time
	LastPieceTime            *time.Time
	FirstMachineStart        *time.Time
	LastMachineStop          *time.Time
	TotalPieces              int       `gorm:"not null;default:0"`
	ProductionDurationHours  float64   `gorm:"type:numeric(10,4)"`
	WaitHours                float64   `gorm:"type:numeric(10,4)"`
	StopHours                float64   `gorm:"type:numeric(10,4)"`
	EffectiveProductionHours float64   `gorm:"type:numeric(10,4)"`
	OccupationRatePct        float64   `gorm:"column:occupation_rate_pct;type:numeric(8,2)"`
	WaitRatePct              float64   `gorm:"column:wait_rate_pct;type:numeric(8,2)"`
	StopRatePct              float64   `gorm:"column:stop_rate_pct;type:numeric(8,2)"`
	SourceFile               string    `gorm:"size:255"`
	CreatedAt                time.Time `gorm:"not null"`

	// Associations
	Machine     Machine      `gorm:"constraint:OnDelete:CASCADE"`
	JobProfiles []JobProfile `gorm:"foreignKey:SessionID"`
	WaitPeriods []WaitPeriod `gorm:"foreignKey:SessionID"`
	StopPeriods []StopPeriod `gorm:"foreignKey:SessionID"`
	Pieces      []Piece      `gorm:"foreignKey:SessionID"`
}

// TableName pins the table name used by the reporting side.
func (Session) TableName() string { return "session" }

// SessionMetricColumns are the columns a re-sync overwrites.
var SessionMetricColumns = []string{
	"first_piece_time",
	"last_piece_time",
	"first_machine_start",
	"last_machine_stop",
	"total_pieces",
	"production_duration_hours",
	"wait_hours",
	"stop_hours",
	"effective_production_hours",
	"occupation_rate_pct",
	"wait_rate_pct",
	"stop_rate_pct",
	"source_file",
}
