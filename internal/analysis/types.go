package analysis

import "time"

// Event types emitted by the machine controllers.
const (
	EventPieceDone    = "StukUitgevoerd"
	EventMachineWait  = "MachineWait"
	EventMachineStop  = "MachineStop"
	EventMachineStart = "MachineStart"
	EventJobProfile   = "JobProfiel"
)

// NoColor is stored when a job profile carries no color code.
const NoColor = "N/A"

// Period is a closed time interval the machine spent in one state.
type Period struct {
	Start           time.Time
	End             time.Time
	DurationSeconds float64
}

// WaitPeriod is time spent idle waiting for material or input.
type WaitPeriod Period

// StopPeriod is time between an operator stop and the next start.
type StopPeriod Period

// JobProfile is a profile loaded into the machine.
type JobProfile struct {
	Reference         string
	LengthMillimeters float64
	Color             string
	Timestamp         time.Time
}

// PieceEvent is one completed piece.
type PieceEvent struct {
	SequenceNumber int
	Timestamp      time.Time
	RawDetail      string
}

// Result holds the production metrics of one machine for one day.
type Result struct {
	MachineID string
	Date      time.Time

	FirstPieceTime    time.Time
	LastPieceTime     time.Time
	FirstMachineStart *time.Time
	LastMachineStop   *time.Time

	TotalPieces              int
	ProductionDurationHours  float64
	WaitHours                float64
	StopHours                float64
	EffectiveProductionHours float64

	OccupationRatePercent float64
	WaitRatePercent       float64
	StopRatePercent       float64

	JobProfiles []JobProfile
	WaitPeriods []WaitPeriod
	StopPeriods []StopPeriod
	PieceEvents []PieceEvent
}
