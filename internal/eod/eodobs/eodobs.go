package eodobs

import (
	"context"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/trace"

	"go.opentelemetry.io/otel/attribute"
)

type observableSummarizer struct {
	inner interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableSummarizer{inner: summarizer}
}

func (o *observableSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	day := t.UTC().Format("2006-01-02")
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeDay")
	defer span.End()
	span.SetAttributes(attribute.String("eod.date", day))

	start := time.Now()
	csvPath, err := o.inner.SummarizeDay(ctx, t)
	return csvPath, o.report(ctx, day, csvPath, start, err)
}

func (o *observableSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeToday")
	defer span.End()

	start := time.Now()
	csvPath, err := o.inner.SummarizeToday(ctx)
	return csvPath, o.report(ctx, time.Now().UTC().Format("2006-01-02"), csvPath, start, err)
}

// report logs one summary outcome; skip 2 attributes it to the decorator's caller.
func (o *observableSummarizer) report(ctx context.Context, day, csvPath string, start time.Time, err error) error {
	ms := time.Since(start).Milliseconds()
	switch {
	case err != nil:
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary failed", err, "date", day, "duration_ms", ms)
	case csvPath == "":
		logger.InfoSkip(ctx, 2, "No trades for EOD summary", "date", day)
	default:
		logger.InfoSkip(ctx, 2, "EOD summary written", "date", day, "csv_path", csvPath, "duration_ms", ms)
	}
	return err
}

func (o *observableSummarizer) ShouldRunNow(ctx context.Context) (bool, string) {
	run, csvPath := o.inner.ShouldRunNow(ctx)
	if run {
		logger.DebugSkip(ctx, 1, "EOD summary due", "csv_path", csvPath)
	}
	return run, csvPath
}
