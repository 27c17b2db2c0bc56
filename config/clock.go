package config

import "time"

// Clock abstracts "now" so retry schedules, session variance and signature
// freshness checks are reproducible in tests. Configured once at startup;
// tests substitute a FixedClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

var appClock Clock = systemClock{}

func GetClock() Clock {
	return appClock
}

// SetClock replaces the process clock. Intended for tests and one-time
// startup wiring only.
func SetClock(c Clock) {
	if c == nil {
		appClock = systemClock{}
		return
	}
	appClock = c
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (f FixedClock) Now() time.Time { return f.T.UTC() }
