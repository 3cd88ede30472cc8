package parse

import (
	"bytes"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	timestampLayout = "20060102 15:04:05"
	eventSeparator  = "|@"
)

// ErrNoEvents is returned when a log decodes fine but holds no usable line.
var ErrNoEvents = errors.New("no events found")

// Event is one timestamped line of a machine log.
type Event struct {
	Timestamp time.Time
	Type      string
	Details   string
}

// Decode turns raw log bytes into text. Null bytes are dropped; valid UTF-8 is kept as is and
// anything else is read as ISO-8859-1, where every byte maps to exactly one character.
func Decode(raw []byte) string {
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// ISO-8859-1 maps all 256 byte values; this cannot happen.
		return string(raw)
	}
	return string(decoded)
}

// Parse extracts the events of a machine log in line order.
// Timestamps are read in loc; a nil loc means UTC.
func Parse(raw []byte, loc *time.Location) ([]Event, error) {
	if loc == nil {
		loc = time.UTC
	}

	var events []Event
	for _, line := range strings.Split(Decode(raw), "\n") {
		ev, ok := ParseLine(line, loc)
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	return events, nil
}

// ParseLine parses a single "YYYYMMDD HH:MM:SS|@Type[: Details]" line.
// It reports false for blank lines, lines without the separator and bad timestamps.
func ParseLine(line string, loc *time.Location) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	stamp, rest, found := strings.Cut(line, eventSeparator)
	if !found {
		return Event{}, false
	}

	ts, err := time.ParseInLocation(timestampLayout, asciiOnly(stamp), loc)
	if err != nil {
		return Event{}, false
	}

	eventType, details, _ := strings.Cut(rest, ":")
	return Event{
		Timestamp: ts,
		Type:      strings.TrimSpace(eventType),
		Details:   strings.TrimSpace(details),
	}, true
}

// asciiOnly drops the noise some controllers write around the timestamp.
func asciiOnly(s string) string {
	s = strings.Map(func(r rune) rune {
		if r >= utf8.RuneSelf {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
