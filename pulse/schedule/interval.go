package schedule

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/repost/errors"
)

// ErrInvalidInterval is returned for zero, negative or unparseable intervals
var ErrInvalidInterval = errors.Mark(errors.New("invalid interval"), errors.ErrInvalidRequest)

// maxHours is the largest whole-hour count a time.Duration can hold
const maxHours = int(math.MaxInt64 / time.Hour)

// cronParser accepts descriptors only; calendar specs have no fixed interval
var cronParser = cron.NewParser(cron.Descriptor)

// ParseInterval reads a republish interval. Accepted forms:
//
//	12h, 90m          Go durations
//	@every 12h        cron constant delay
//	@hourly, @daily   cron descriptors with a fixed period
//	24                whole hours
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(ErrInvalidInterval, "empty")
	}

	if hours, err := strconv.Atoi(s); err == nil {
		if hours > maxHours {
			return 0, errors.Wrapf(ErrInvalidInterval, "%d hours exceeds %d", hours, maxHours)
		}
		return validInterval(time.Duration(hours) * time.Hour)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return validInterval(d)
	}
	if !strings.HasPrefix(s, "@") {
		return 0, errors.Wrapf(ErrInvalidInterval, "%q", s)
	}

	sched, err := cronParser.Parse(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInterval, "%q: %v", s, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return validInterval(every.Delay)
	}

	if s == "@monthly" || s == "@yearly" || s == "@annually" {
		return 0, errors.Wrapf(ErrInvalidInterval, "%s has no fixed period", s)
	}

	// Descriptor periods measured across two consecutive activations.
	// The reference is UTC so no DST change falls inside a week.
	ref := time.Date(2024, time.June, 3, 0, 30, 0, 0, time.UTC)
	first := sched.Next(ref)
	second := sched.Next(first)
	return validInterval(second.Sub(first))
}

func validInterval(d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, errors.Wrapf(ErrInvalidInterval, "%s must be positive", d)
	}
	return d, nil
}
