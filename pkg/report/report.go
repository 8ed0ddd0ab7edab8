// Package report pushes the host status to the chat on a cron schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/ops"
)

var ErrInvalidExpression = errors.New("invalid cron expression")

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type StatsSource interface {
	Stats(ctx context.Context) (ops.Stats, error)
}

type Options struct {
	// Expr is a five-field cron expression, e.g. "0 8 * * *".
	Expr       string
	ServerName string
	Source     StatsSource
	Notifier   Notifier
	Now        func() time.Time
}

type Scheduler struct {
	expr     string
	server   string
	source   StatsSource
	notifier Notifier
	now      func() time.Time
}

func New(opts Options) (*Scheduler, error) {
	expr := strings.TrimSpace(opts.Expr)
	if err := Validate(expr); err != nil {
		return nil, err
	}
	if opts.Source == nil || opts.Notifier == nil {
		return nil, errors.New("report: stats source and notifier are required")
	}

	s := &Scheduler{
		expr:     expr,
		server:   opts.ServerName,
		source:   opts.Source,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func Validate(expr string) error {
	g := gronx.New()
	if expr == "" || !g.IsValid(expr) {
		return fmt.Errorf("%q: %w", expr, ErrInvalidExpression)
	}
	return nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run sends a report at every tick until ctx is cancelled. A failed report is
// logged and the schedule continues.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.InfoCF("report", "Scheduled report enabled", map[string]any{"cron": s.expr})

	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("report: next tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.Send(ctx); err != nil {
			logger.WarnCF("report", "Scheduled report failed", map[string]any{"error": err.Error()})
		}
	}
}

// Send collects stats once and pushes the formatted report.
func (s *Scheduler) Send(ctx context.Context) error {
	stats, err := s.source.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}
	text := "🕒 **Scheduled report**\n\n" + ops.FormatStatus(s.server, stats)
	if err := s.notifier.Notify(ctx, text); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	logger.DebugCF("report", "Scheduled report sent", map[string]any{"server": s.server})
	return nil
}
