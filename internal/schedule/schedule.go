// Package schedule decides when the next polling sweep starts.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

// Spec is a parsed schedule.
//
// Supported forms:
//   - Interval duration: "30s", "2m30s"
//   - Interval HH:MM: "00:05" (5 minutes), "01:30"
//   - Cron: "*/1 * * * *", "0 */2 * * * *" (seconds optional), "@hourly", "@every 45s"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
type Spec struct {
	Kind   Kind
	Every  time.Duration
	Cron   string
	Source string // "duration" | "hhmm" | "cron"

	sched cron.Schedule
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	// SecondOptional allows both 5-field and 6-field specs.
	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Every returns a fixed-interval spec.
func Every(d time.Duration) (Spec, error) {
	if d <= 0 {
		return Spec{}, errors.New("interval must be > 0")
	}
	return Spec{Kind: KindInterval, Every: d, Source: "duration"}, nil
}

// Parse parses raw into an interval or a cron spec. Cron expressions are
// evaluated in loc (nil means time.Local).
func Parse(raw string, loc *time.Location) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, errors.New("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a descriptor means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s, loc)
	}
	sp, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/1 * * * *', HH:MM like '00:05', or duration like '30s')",
			raw,
		)
	}
	return sp, nil
}

// Next returns the start of the next sweep after t.
func (s Spec) Next(t time.Time) time.Time {
	if s.Kind == KindCron && s.sched != nil {
		return s.sched.Next(t)
	}
	return t.Add(s.Every)
}

// Delay returns how long to wait after t.
func (s Spec) Delay(t time.Time) time.Duration {
	return max(s.Next(t).Sub(t), 0)
}

func (s Spec) String() string {
	if s.Kind == KindCron {
		return "cron:" + s.Cron
	}
	return "every " + s.Every.String()
}

func parseCron(expr string, loc *time.Location) (Spec, error) {
	if expr == "" {
		return Spec{}, errors.New("cron schedule required after 'cron:'")
	}
	if loc == nil {
		loc = time.Local
	}
	full := expr
	if !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "CRON_TZ=") {
		full = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := parser.Parse(full)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: KindCron, Cron: expr, Source: "cron", sched: sched}, nil
}

func parseInterval(v string) (Spec, error) {
	if v == "" {
		return Spec{}, errors.New("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, errors.New("interval must be > 0")
		}
		return Spec{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '30s')", v)
	}
	return Every(d)
}
