package matcher

import "time"

// Clock abstracts time for wait deadlines so timeout behavior is testable
// without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall-clock implementation used outside tests.
var SystemClock Clock = systemClock{}
