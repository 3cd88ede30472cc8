package model

import "time"

// JobProfile is a profile loaded into the machine during a session.
type JobProfile struct {
	ID        int64   `gorm:"primaryKey"`
	SessionID int64   `gorm:"index;not null"`
	Reference string  `gorm:"size:50;not null"`
	LengthMM  float64 `gorm:"column:length_mm;type:numeric(10,2)"`
	Color     string  `gorm:"size:50"`
	Timestamp time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (JobProfile) TableName() string { return "job_profile" }

// WaitPeriod is an interval the machine waited for material or input.
type WaitPeriod struct {
	ID              int64     `gorm:"primaryKey"`
	SessionID       int64     `gorm:"index;not null"`
	StartTS         time.Time `gorm:"column:start_ts;not null"`
	EndTS           time.Time `gorm:"column:end_ts;not null"`
	DurationSeconds int       `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (WaitPeriod) TableName() string { return "wait_period" }

// StopPeriod is an interval between an operator stop and the next start.
type StopPeriod struct {
	ID              int64     `gorm:"primaryKey"`
	SessionID       int64     `gorm:"index;not null"`
	StartTS         time.Time `gorm:"column:start_ts;not null"`
	EndTS           time.Time `gorm:"column:end_ts;not null"`
	DurationSeconds int       `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (StopPeriod) TableName() string { return "stop_period" }

// Piece is one completed piece.
type Piece struct {
	ID             int64     `gorm:"primaryKey"`
	SessionID      int64     `gorm:"index;not null"`
	SequenceNumber int       `gorm:"not null"`
	Timestamp      time.Time `gorm:"not null"`
	RawDetail      string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Piece) TableName() string { return "piece" }

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&Machine{},
		&Session{},
		&JobProfile{},
		&WaitPeriod{},
		&StopPeriod{},
		&Piece{},
	}
}
