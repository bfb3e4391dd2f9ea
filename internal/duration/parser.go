// Package duration parses the human duration strings operators type for
// silences ("2h", "30m", "1d", "1.5h") plus clock-style spans ("00:30:00").
package duration

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// [D.]HH:MM[:SS]
var clockPattern = regexp.MustCompile(`^(?:(\d+)\.)?(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// maxClockDays keeps days*24h plus a day of clock fields inside time.Duration
const maxClockDays = int(math.MaxInt64/int64(24*time.Hour)) - 1

// Parse converts text into a positive duration. Unit forms (h, m, d, w, s,
// fractional and compound) are tried first, then the clock form.
func Parse(text string) (time.Duration, error) {
	input := strings.ToLower(strings.TrimSpace(text))
	if input == "" {
		return 0, &types.FormatError{Field: "duration", Reason: "empty"}
	}

	d, err := parseClock(input)
	if err != nil {
		d, err = str2duration.ParseDuration(input)
		if err != nil {
			return 0, &types.FormatError{Field: "duration", Value: text, Reason: "expected <n>h, <n>m, <n>d or HH:MM:SS"}
		}
	}

	if d <= 0 {
		return 0, &types.FormatError{Field: "duration", Value: text, Reason: "must be positive"}
	}
	return d, nil
}

// TryParse is the non-failing form of Parse: zero and false on bad input.
func TryParse(text string) (time.Duration, bool) {
	d, err := Parse(text)
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseClock(input string) (time.Duration, error) {
	m := clockPattern.FindStringSubmatch(input)
	if m == nil {
		return 0, &types.FormatError{Field: "duration", Value: input, Reason: "not a clock value"}
	}

	fields := make([]int, 4)
	for i, raw := range m[1:] {
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, &types.FormatError{Field: "duration", Value: input, Reason: "clock field too large"}
		}
		fields[i] = n
	}
	days, hours, minutes, seconds := fields[0], fields[1], fields[2], fields[3]

	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, &types.FormatError{Field: "duration", Value: input, Reason: "clock field out of range"}
	}
	if days > maxClockDays {
		return 0, &types.FormatError{Field: "duration", Value: input, Reason: "day count too large"}
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second, nil
}
