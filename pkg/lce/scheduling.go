// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"strconv"
	"strings"
	"time"
)

// WorkWindow is a daily "HH:MM-HH:MM" wake window (§4.6 "Scheduling",
// rgw_lifecycle_work_time).
type WorkWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// DefaultWorkWindow matches Ceph RGW's rgw_lifecycle_work_time default of
// "00:00-06:00".
var DefaultWorkWindow = WorkWindow{StartHour: 0, StartMinute: 0, EndHour: 6, EndMinute: 0}

// ParseWorkWindow parses "HH:MM-HH:MM".
func ParseWorkWindow(s string) (WorkWindow, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return WorkWindow{}, Error.New("malformed work window %q", s)
	}
	sh, sm, err := parseHHMM(parts[0])
	if err != nil {
		return WorkWindow{}, err
	}
	eh, em, err := parseHHMM(parts[1])
	if err != nil {
		return WorkWindow{}, err
	}
	return WorkWindow{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em}, nil
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, Error.New("malformed HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	return h, m, nil
}

// InWindow reports whether now falls within w (wrapping past midnight if
// end <= start).
func (w WorkWindow) InWindow(now time.Time) bool {
	start := time.Date(now.Year(), now.Month(), now.Day(), w.StartHour, w.StartMinute, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), w.EndHour, w.EndMinute, 0, 0, now.Location())
	if !end.After(start) {
		// window wraps past midnight
		return !now.Before(start) || now.Before(end)
	}
	return !now.Before(start) && now.Before(end)
}

// NextWakeup computes the next wake time after now: now plus debugInterval
// if debug interval overrides are set ("any time, every N seconds"), now
// itself if now falls inside w, otherwise the next occurrence of w's start
// (§4.6 "Scheduling").
func NextWakeup(now time.Time, w WorkWindow, debugInterval time.Duration) time.Time {
	if debugInterval > 0 {
		return now.Add(debugInterval)
	}
	if w.InWindow(now) {
		return now
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), w.StartHour, w.StartMinute, 0, 0, now.Location())
	if start.After(now) {
		return start
	}
	return start.Add(24 * time.Hour)
}
