package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// Archiver periodically copies snapshots and signals past the retention
// window to cold storage. The database keeps every row.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run archives everything older than the retention window that earlier runs
// have not copied yet. Signals go first, then snapshots.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	signals, err := a.blobArchiver.ArchiveSignals(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving signals before %v: %w", cutoff, err)
	}
	snapshots, err := a.blobArchiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving snapshots before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("signals_archived", signals),
		slog.Int64("snapshots_archived", snapshots),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week", UTC) until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		waitDuration := next.Sub(a.now())
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is one parsed cron field.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// cronBounds are the inclusive value ranges of the five fields.
var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

var cronFieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// parseCronField parses a field such as "*", "5", "1,15", "1-5" or "*/10".
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	values := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			part, step = base, n
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var errA, errB error
			from, errA = strconv.Atoi(a)
			to, errB = strconv.Atoi(b)
			if errA != nil || errB != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

type parsedCron [5]cronField

func (c parsedCron) matchesTime(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var c parsedCron
	for i, f := range fields {
		parsed, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", cronFieldNames[i], err)
		}
		c[i] = parsed
	}
	return c, nil
}

// ValidateCron reports whether expr is a schedule RunCron accepts.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// nextCronTime calculates the next time after 'after' that matches the given
// cron expression. It searches minute-by-minute up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	// Start from the next minute boundary.
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	// Search up to one year ahead to avoid infinite loops.
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
