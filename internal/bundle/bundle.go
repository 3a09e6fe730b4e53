// Package bundle assembles the self-contained archive dispatched to a
// tester: the submitted sources, the assignment's tests, the machine's
// build/run scripts, and both config records. A bundle is ephemeral; it is
// created in the unchecked directory, shipped once, and never re-read.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vmcheck/courier/internal/alock"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/paths"
	"github.com/vmcheck/courier/internal/ziputil"
)

type Builder struct {
	cfg   *courseconf.Config
	paths paths.CoursePaths
	locks *alock.Registry
	log   *slog.Logger
}

func NewBuilder(cfg *courseconf.Config, locks *alock.Registry, log *slog.Logger) *Builder {
	return &Builder{
		cfg:   cfg,
		paths: paths.NewCoursePaths(cfg.Root),
		locks: locks,
		log:   log,
	}
}

// Build packages the canonical submission of (assignment, user) and
// returns the path of the created bundle in the unchecked directory.
// Assembly runs under the assignment lease so it never races a concurrent
// canonical rewrite; on any failure the partial bundle is removed.
func (b *Builder) Build(ctx context.Context, assignment, user string) (string, error) {
	entries, err := b.manifest(assignment, user)
	if err != nil {
		return "", err
	}

	// All sources must be present before the archive is opened; checking
	// them concurrently keeps large tests.zip stats off the critical path.
	errs, _ := errgroup.WithContext(ctx)
	for _, e := range entries {
		errs.Go(func() error {
			if _, err := os.Stat(e.Src); err != nil {
				return fmt.Errorf("bundle source %s missing: %w", e.Name, err)
			}
			return nil
		})
	}
	if err := errs.Wait(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.paths.UncheckedDir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create unchecked dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s_%s.zip", b.cfg.CourseID, assignment, user, uuid.NewString()[:8])
	bundlePath := filepath.Join(b.paths.UncheckedDir(), name)

	err = b.locks.With(assignment, func() error {
		out, err := os.Create(bundlePath)
		if err != nil {
			return fmt.Errorf("failed to create bundle %s: %w", bundlePath, err)
		}
		defer out.Close()
		return ziputil.CreateFromManifest(out, entries)
	})
	if err != nil {
		os.Remove(bundlePath)
		return "", fmt.Errorf("failed to build bundle: %w", err)
	}

	b.log.Info("created bundle", slog.String("path", bundlePath))
	return bundlePath, nil
}

// manifest lists the six bundle entries and where each comes from.
func (b *Builder) manifest(assignment, user string) ([]ziputil.ManifestEntry, error) {
	a, err := b.cfg.Assignment(assignment)
	if err != nil {
		return nil, err
	}
	m, err := b.cfg.MachineFor(assignment)
	if err != nil {
		return nil, err
	}
	sbroot := b.paths.SubmissionRoot(assignment, user)

	return []ziputil.ManifestEntry{
		{Name: "build.sh", Src: b.cfg.Abspath(m.BuildScript)},
		{Name: "run.sh", Src: b.cfg.Abspath(m.RunScript)},
		{Name: "archive.zip", Src: paths.ArchivePath(sbroot)},
		{Name: "tests.zip", Src: b.cfg.Abspath(a.Tests)},
		{Name: "submission-config", Src: paths.DescriptorPath(sbroot)},
		{Name: "course-config", Src: b.cfg.Path()},
	}, nil
}
