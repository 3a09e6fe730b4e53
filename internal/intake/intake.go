// Package intake is the end-to-end submit pipeline: admission window,
// rate limit, durable versioned store, bundle build, dispatch. Steps run
// strictly in that order so a bundle always reflects durably recorded
// content, and each failure class surfaces as its own error type.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmcheck/courier/internal/admission"
	"github.com/vmcheck/courier/internal/bundle"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/storer"
)

// StoreError wraps a backup or repository failure. The pipeline stopped
// before any bundle was built or dispatched.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("failed to store submission: %v", e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// BuildError wraps a bundle assembly failure. The submission is durably
// stored; no partial bundle remains on disk.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("failed to build bundle: %v", e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }

// Dispatcher pushes a built bundle to a tester's queue directory.
type Dispatcher interface {
	Dispatch(ctx context.Context, bundlePath string, tester courseconf.Tester) error
}

type Intake struct {
	cfg        *courseconf.Config
	checker    *admission.Checker
	store      *storer.Storer
	builder    *bundle.Builder
	dispatcher Dispatcher
	log        *slog.Logger
}

func New(cfg *courseconf.Config, checker *admission.Checker, store *storer.Storer,
	builder *bundle.Builder, dispatcher Dispatcher, log *slog.Logger) *Intake {
	return &Intake{
		cfg:        cfg,
		checker:    checker,
		store:      store,
		builder:    builder,
		dispatcher: dispatcher,
		log:        log,
	}
}

type SubmitParams struct {
	ArchivePath string
	Assignment  string
	User        string

	// SkipTimeCheck bypasses the rate limiter, not the upload window.
	SkipTimeCheck bool

	// ForcedUploadTime overrides the clock and implies SkipTimeCheck.
	ForcedUploadTime *time.Time
}

// Submit records one submission and queues it for testing.
func (i *Intake) Submit(ctx context.Context, p SubmitParams) error {
	uploadTime := time.Now()
	skipTimeCheck := p.SkipTimeCheck
	if p.ForcedUploadTime != nil {
		uploadTime = *p.ForcedUploadTime
		skipTimeCheck = true
	}

	if err := i.checker.CheckWindow(uploadTime); err != nil {
		return err
	}
	if !skipTimeCheck {
		if err := i.checker.CheckInterval(p.Assignment, p.User); err != nil {
			return err
		}
	}

	// Resolve the dispatch target up front; a config error should reject
	// the submission before anything is written.
	tester, err := i.cfg.TesterFor(p.Assignment)
	if err != nil {
		return err
	}

	if err := i.store.Store(p.Assignment, p.User, p.ArchivePath, uploadTime); err != nil {
		return &StoreError{Err: err}
	}

	bundlePath, err := i.builder.Build(ctx, p.Assignment, p.User)
	if err != nil {
		return &BuildError{Err: err}
	}
	if err := i.dispatcher.Dispatch(ctx, bundlePath, tester); err != nil {
		return err
	}

	i.log.Info("submission queued for testing",
		slog.String("assignment", p.Assignment),
		slog.String("user", p.User),
		slog.String("bundle", bundlePath))
	return nil
}
