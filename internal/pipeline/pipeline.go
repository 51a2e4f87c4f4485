package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"benchboard/internal/domain"
)

type Stage string

const (
	StageValidate  Stage = "validate"
	StageTransform Stage = "transform"
	StageScan      Stage = "scan"
)

// StageError is the failure of a single stage. Its message becomes the
// task's failure reason.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Runner processes one payload to completion.
type Runner interface {
	Run(ctx context.Context, desc domain.PayloadDescriptor) (domain.StageResults, error)
}

type Options struct {
	MaxPayloadBytes int64
	TransformDelay  time.Duration
	ScanDelay       time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxPayloadBytes: 100 << 20,
		TransformDelay:  2 * time.Second,
		ScanDelay:       1500 * time.Millisecond,
	}
}

// each stage writes only its own field of the shared results
type stageFunc func(ctx context.Context, desc domain.PayloadDescriptor, out *domain.StageResults) error

type Pipeline struct {
	opts   Options
	logger zerolog.Logger

	validate  stageFunc
	transform stageFunc
	scan      stageFunc
}

var _ Runner = (*Pipeline)(nil)

func New(opts Options) *Pipeline {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultOptions().MaxPayloadBytes
	}
	p := &Pipeline{
		opts:   opts,
		logger: log.With().Str("component", "pipeline").Logger(),
	}
	p.validate = p.runValidate
	p.transform = p.runTransform
	p.scan = p.runScan
	return p
}

// Run executes validate, transform and scan concurrently and returns once all
// three have finished. The first stage failure is returned and any partial
// results are dropped.
func (p *Pipeline) Run(ctx context.Context, desc domain.PayloadDescriptor) (domain.StageResults, error) {
	var (
		res domain.StageResults
		g   errgroup.Group
	)
	g.Go(p.guard(ctx, StageValidate, desc, &res, p.validate))
	g.Go(p.guard(ctx, StageTransform, desc, &res, p.transform))
	g.Go(p.guard(ctx, StageScan, desc, &res, p.scan))

	if err := g.Wait(); err != nil {
		return domain.StageResults{}, err
	}
	return res, nil
}

func (p *Pipeline) guard(ctx context.Context, stage Stage, desc domain.PayloadDescriptor, out *domain.StageResults, fn stageFunc) func() error {
	return func() (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
			}
			ev := p.logger.Debug()
			if err != nil {
				ev = p.logger.Warn().Err(err)
			}
			ev.Str("stage", string(stage)).Str("payload", desc.Name).Dur("took", time.Since(start)).Msg("stage finished")
		}()

		if err := fn(ctx, desc, out); err != nil {
			var se *StageError
			if errors.As(err, &se) {
				return se
			}
			return &StageError{Stage: stage, Err: err}
		}
		return nil
	}
}

// sleep simulates resource-bound work.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
