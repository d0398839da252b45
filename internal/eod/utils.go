package eod

import (
	"fmt"
	"path/filepath"
	"time"

	"mt5-llm-trader/internal/tradelog"
)

func eodCSVPath(t time.Time) string {
	return filepath.Join(tradelog.Dir(), "eod", t.UTC().Format("2006-01-02")+".csv")
}

// parseCutoff reads "HH:MM" (UTC).
func parseCutoff(s string) (hour, minute int, err error) {
	if s == "" {
		return 21, 5, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid eod cutoff %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func cutoffTime(t time.Time, hour, minute int) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), hour, minute, 0, 0, time.UTC)
}
