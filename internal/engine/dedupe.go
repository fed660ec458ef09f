package engine

import "time"

// duplicateFilter suppresses repeated codes according to codeDuplicateFilter:
// -1 reports a code once per session, 0 reports everything, and a positive
// value suppresses repeats seen within that many milliseconds of the last
// report.
type duplicateFilter struct {
	seen map[string]time.Time
}

func newDuplicateFilter() *duplicateFilter {
	return &duplicateFilter{seen: make(map[string]time.Time)}
}

func (f *duplicateFilter) admit(key string, window int, now time.Time) bool {
	if window == 0 {
		return true
	}
	last, ok := f.seen[key]
	if window < 0 {
		if ok {
			return false
		}
		f.seen[key] = now
		return true
	}
	if ok && now.Sub(last) < time.Duration(window)*time.Millisecond {
		return false
	}
	f.seen[key] = now
	return true
}

func (f *duplicateFilter) reset() {
	f.seen = make(map[string]time.Time)
}
