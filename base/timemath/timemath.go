package timemath

import (
	"math"
	"time"
)

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func Seconds(duration time.Duration) float64 {
	return float64(duration) / float64(time.Second)
}

func Abs(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		panic("unexpected duration value")
	}
	if d < 0 {
		d = -d
	}
	return d
}
