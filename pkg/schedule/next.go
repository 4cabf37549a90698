package schedule

import "time"

// DefaultHorizon bounds how far Next scans before giving up.
const DefaultHorizon = 366 * 24 * time.Hour

// Next returns up to n matching minutes strictly after from, scanning minute by
// minute in from's location. A calendar that never fires (for example a past
// year) yields fewer than n results once horizon is exhausted.
func Next(spec *Spec, from time.Time, n int, horizon time.Duration) []time.Time {
	if spec == nil || n <= 0 {
		return nil
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	var out []time.Time
	end := from.Add(horizon)
	for t := TruncateMinute(from).Add(time.Minute); !t.After(end); t = t.Add(time.Minute) {
		if Matches(spec, t) {
			out = append(out, t)
			if len(out) == n {
				break
			}
		}
	}
	return out
}
