// Package analysis turns the events of one machine log into production metrics.
package analysis

import (
	"errors"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cu-log-sync/internal/parse"
)

// maxWaitSeconds is the longest wait a time.Duration can represent.
const maxWaitSeconds = float64(math.MaxInt64 / int64(time.Second))

var (
	waitSecondsRe = regexp.MustCompile(`(\d+) sec`)
	waitDecimalRe = regexp.MustCompile(`(\d+\.\d+)`)

	jobReferenceRe = regexp.MustCompile(`R:(\w+)`)
	jobLengthRe    = regexp.MustCompile(`L:(\d+\.\d+)`)
	jobColorRe     = regexp.MustCompile(`C:(\w+)`)
)

// ErrNoCompletions is returned when a log holds no completed piece.
var ErrNoCompletions = errors.New("no completed pieces")

// MachineID derives the machine name from its type and the log file name.
func MachineID(machineType, fileName string) string {
	base := filepath.Base(fileName)
	return machineType + "_" + strings.TrimSuffix(base, filepath.Ext(base))
}

// Analyze computes the metrics of one log file. Events must be in file order.
func Analyze(events []parse.Event, machineType, fileName string) (*Result, error) {
	var pieces []parse.Event
	for _, ev := range events {
		if ev.Type == EventPieceDone {
			pieces = append(pieces, ev)
		}
	}
	if len(pieces) == 0 {
		return nil, ErrNoCompletions
	}

	first := events[0].Timestamp
	res := &Result{
		MachineID:      MachineID(machineType, fileName),
		Date:           time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC),
		FirstPieceTime: pieces[0].Timestamp,
		LastPieceTime:  pieces[len(pieces)-1].Timestamp,
		TotalPieces:    len(pieces),
	}
	res.ProductionDurationHours = res.LastPieceTime.Sub(res.FirstPieceTime).Seconds() / 3600

	var waitSeconds float64
	res.WaitPeriods, waitSeconds = waitPeriods(events)
	res.WaitHours = waitSeconds / 3600

	var stopSeconds float64
	res.StopPeriods, stopSeconds = stopPeriods(events)
	res.StopHours = stopSeconds / 3600
	res.FirstMachineStart, res.LastMachineStop = machineBounds(events)

	if res.ProductionDurationHours != 0 {
		res.EffectiveProductionHours = res.ProductionDurationHours - res.WaitHours - res.StopHours
		res.OccupationRatePercent = res.EffectiveProductionHours / res.ProductionDurationHours * 100
		res.WaitRatePercent = res.WaitHours / res.ProductionDurationHours * 100
		res.StopRatePercent = res.StopHours / res.ProductionDurationHours * 100
	}

	res.JobProfiles = jobProfiles(events)

	res.PieceEvents = make([]PieceEvent, len(pieces))
	for i, ev := range pieces {
		res.PieceEvents[i] = PieceEvent{
			SequenceNumber: i + 1,
			Timestamp:      ev.Timestamp,
			RawDetail:      ev.Details,
		}
	}
	return res, nil
}

// WaitSeconds reads the wait duration written in a MachineWait detail.
// "<n> sec" wins over a bare decimal; anything else counts as no wait.
func WaitSeconds(details string) float64 {
	if m := waitSecondsRe.FindStringSubmatch(details); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	if m := waitDecimalRe.FindStringSubmatch(details); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return 0
}

func waitPeriods(events []parse.Event) ([]WaitPeriod, float64) {
	var (
		periods []WaitPeriod
		total   float64
	)
	for _, ev := range events {
		if ev.Type != EventMachineWait {
			continue
		}
		secs := WaitSeconds(ev.Details)
		if secs <= 0 {
			continue
		}
		secs = min(secs, maxWaitSeconds)
		periods = append(periods, WaitPeriod{
			Start:           ev.Timestamp,
			End:             ev.Timestamp.Add(time.Duration(secs * float64(time.Second))),
			DurationSeconds: secs,
		})
		total += secs
	}
	return periods, total
}

// stopPeriods pairs every stop with the start right after it.
func stopPeriods(events []parse.Event) ([]StopPeriod, float64) {
	var transitions []parse.Event
	for _, ev := range events {
		if ev.Type == EventMachineStop || ev.Type == EventMachineStart {
			transitions = append(transitions, ev)
		}
	}

	var (
		periods []StopPeriod
		total   float64
	)
	for i := 0; i+1 < len(transitions); i++ {
		stop, start := transitions[i], transitions[i+1]
		if stop.Type != EventMachineStop || start.Type != EventMachineStart {
			continue
		}
		if start.Timestamp.Before(stop.Timestamp) {
			continue
		}
		secs := start.Timestamp.Sub(stop.Timestamp).Seconds()
		periods = append(periods, StopPeriod{
			Start:           stop.Timestamp,
			End:             start.Timestamp,
			DurationSeconds: secs,
		})
		total += secs
	}
	return periods, total
}

func machineBounds(events []parse.Event) (firstStart, lastStop *time.Time) {
	for i := range events {
		switch events[i].Type {
		case EventMachineStart:
			if firstStart == nil {
				t := events[i].Timestamp
				firstStart = &t
			}
		case EventMachineStop:
			t := events[i].Timestamp
			lastStop = &t
		}
	}
	return firstStart, lastStop
}

func jobProfiles(events []parse.Event) []JobProfile {
	var jobs []JobProfile
	for _, ev := range events {
		if ev.Type != EventJobProfile {
			continue
		}
		job, ok := ParseJobProfile(ev.Details)
		if !ok {
			continue
		}
		job.Timestamp = ev.Timestamp
		jobs = append(jobs, job)
	}
	return jobs
}

// ParseJobProfile reads "R:<ref> L:<length> [C:<color>]". Reference and length are required.
func ParseJobProfile(details string) (JobProfile, bool) {
	ref := jobReferenceRe.FindStringSubmatch(details)
	length := jobLengthRe.FindStringSubmatch(details)
	if ref == nil || length == nil {
		return JobProfile{}, false
	}
	mm, err := strconv.ParseFloat(length[1], 64)
	if err != nil {
		return JobProfile{}, false
	}

	color := NoColor
	if c := jobColorRe.FindStringSubmatch(details); c != nil {
		color = c[1]
	}
	return JobProfile{Reference: ref[1], LengthMillimeters: mm, Color: color}, true
}
