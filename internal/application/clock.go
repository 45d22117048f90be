package application

import "time"

// Clock abstracts time.Now so cool-down logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
