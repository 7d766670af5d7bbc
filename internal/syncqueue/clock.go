package syncqueue

import "time"

// Clock abstracts time so retry scheduling is testable. The queue computes
// next-retry times in application code against this clock rather than inside
// SQL statements.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
