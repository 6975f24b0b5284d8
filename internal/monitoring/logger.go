package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// StageTimer logs how long a named pipeline stage took and records it in
// the stage duration histogram. Use as:
//
//	defer monitoring.StageTimer("grid", time.Now())
func StageTimer(stage string, start time.Time) time.Duration {
	elapsed := time.Since(start)
	ObserveStage(stage, elapsed)
	Logf("[%s] done in %s", stage, elapsed.Round(time.Millisecond))
	return elapsed
}

// ObserveStage records a stage duration measured by the caller.
func ObserveStage(stage string, elapsed time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}
