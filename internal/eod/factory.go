package eod

import (
	"context"
	"time"

	"mt5-llm-trader/internal/interfaces"
)

var defaultSummarizer interfaces.EodSummarizer = &eodSummarizer{cutoffHour: 21, cutoffMinute: 5, now: time.Now}

func SetDefaultSummarizer(summarizer interfaces.EodSummarizer) {
	defaultSummarizer = summarizer
}

// NewSummarizer builds a summarizer whose day closes at cutoff ("HH:MM" UTC).
func NewSummarizer(cutoff string) (interfaces.EodSummarizer, error) {
	return newSummarizer(cutoff, time.Now)
}

func newSummarizer(cutoff string, now func() time.Time) (*eodSummarizer, error) {
	h, m, err := parseCutoff(cutoff)
	if err != nil {
		return nil, err
	}
	return &eodSummarizer{cutoffHour: h, cutoffMinute: m, now: now}, nil
}

func SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	return defaultSummarizer.SummarizeDay(ctx, t)
}

func SummarizeToday(ctx context.Context) (string, error) {
	return defaultSummarizer.SummarizeToday(ctx)
}

func ShouldRunNow(ctx context.Context) (bool, string) {
	return defaultSummarizer.ShouldRunNow(ctx)
}
