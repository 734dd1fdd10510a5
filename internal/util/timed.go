package util

import (
	"log/slog"
	"time"
)

// Timed runs fn, logging its start, end and elapsed time under name.
func Timed[T any](name string, fn func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	slog.Info("Starting", "op", name)
	result, err := fn()
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Finished with error", "op", name, "elapsed", elapsed, "error", err)
	} else {
		slog.Info("Finished", "op", name, "elapsed", elapsed)
	}
	return result, elapsed, err
}
