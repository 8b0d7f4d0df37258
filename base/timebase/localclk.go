package timebase

import (
	"time"
)

type LocalClock interface {
	Now() time.Time
	Sleep(duration time.Duration)
}
