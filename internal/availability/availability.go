// Package availability derives bookable slots for a social worker from
// recurring working-hours windows minus existing busy intervals. The
// computation is pure: the same config, bookings and clock always yield
// the same slots, so callers may recompute freely and re-validate at
// commit time.
package availability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"agendamento-api/internal/model"
)

// FreeSlots expands cfg's weekly windows into concrete intervals inside
// [from, to), clips out every busy interval, and discretizes what is
// left into granularity-sized slots anchored at each window start.
// Slots starting before now+leadTime are dropped, as is any trailing
// partial shorter than the granularity. A slot touching a busy interval
// boundary is kept; any true overlap excludes it.
func FreeSlots(cfg *model.WorkingHoursConfig, busy []model.Slot, from, to, now time.Time, loc *time.Location) ([]model.Slot, error) {
	if cfg == nil || len(cfg.Windows) == 0 || !to.After(from) {
		return nil, nil
	}
	gran := time.Duration(cfg.SlotMinutes) * time.Minute
	if gran <= 0 {
		return nil, fmt.Errorf("invalid slot granularity %d", cfg.SlotMinutes)
	}
	earliest := now.Add(time.Duration(cfg.LeadTimeMinutes) * time.Minute)

	sorted := make([]model.Slot, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var out []model.Slot
	day := time.Date(from.In(loc).Year(), from.In(loc).Month(), from.In(loc).Day(), 0, 0, 0, 0, loc)
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, w := range cfg.Windows {
			if w.Weekday != day.Weekday() {
				continue
			}
			ws, err := atTime(day, w.StartTime)
			if err != nil {
				return nil, err
			}
			we, err := atTime(day, w.EndTime)
			if err != nil {
				return nil, err
			}
			if !we.After(ws) {
				continue
			}
			// clip window to the requested range
			lo, hi := ws, we
			if lo.Before(from) {
				lo = from
			}
			if hi.After(to) {
				hi = to
			}
			if !hi.After(lo) {
				continue
			}
			for _, free := range subtract(lo, hi, sorted) {
				out = append(out, discretize(free, ws, gran, earliest)...)
			}
		}
	}
	// windows may be configured in any order
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// subtract clips the sorted busy intervals out of [lo, hi), returning
// the remaining free sub-intervals in order.
func subtract(lo, hi time.Time, busy []model.Slot) []model.Slot {
	var free []model.Slot
	cursor := lo
	for _, b := range busy {
		if !b.End.After(cursor) || !b.Start.Before(hi) {
			continue
		}
		if b.Start.After(cursor) {
			free = append(free, model.Slot{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(hi) {
			break
		}
	}
	if cursor.Before(hi) {
		free = append(free, model.Slot{Start: cursor, End: hi})
	}
	return free
}

// discretize cuts a free sub-interval into fixed slots on the grid
// anchored at the window start, so slots stay aligned even when a busy
// interval splits the window mid-step.
func discretize(free model.Slot, anchor time.Time, gran time.Duration, earliest time.Time) []model.Slot {
	start := free.Start
	if off := start.Sub(anchor) % gran; off != 0 {
		start = start.Add(gran - off)
	}
	var out []model.Slot
	for ; !start.Add(gran).After(free.End); start = start.Add(gran) {
		if start.Before(earliest) {
			continue
		}
		out = append(out, model.Slot{Start: start, End: start.Add(gran)})
	}
	return out
}

// Covers reports whether [start, start+dur) is bookable: start must
// coincide with a free slot's start and the full range must be filled
// by a contiguous run of free slots. A start between grid points never
// qualifies, even when the surrounding time is free, because it would
// consume parts of two advertised slots.
func Covers(slots []model.Slot, start time.Time, dur time.Duration) bool {
	end := start.Add(dur)
	cursor := start
	for _, s := range slots {
		if s.Start.Equal(cursor) {
			cursor = s.End
			if !cursor.Before(end) {
				return true
			}
		}
	}
	return false
}

// ValidateWindow checks a weekly window's "HH:MM" bounds and ordering.
func ValidateWindow(start, end string) error {
	sh, sm, err := parseHHMM(start)
	if err != nil {
		return err
	}
	eh, em, err := parseHHMM(end)
	if err != nil {
		return err
	}
	if eh*60+em <= sh*60+sm {
		return fmt.Errorf("window end %s is not after start %s", end, start)
	}
	return nil
}

func atTime(day time.Time, hhmm string) (time.Time, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
