// Package storer durably records every submission. Each call writes an
// immutable historical backup first, then rewrites the canonical
// per-(assignment, user) backup inside the course repository and commits
// the expanded contents, so the latest view is versioned and the raw
// upload can never be lost to a later failure.
package storer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vmcheck/courier/internal/alock"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/gitrepo"
	"github.com/vmcheck/courier/internal/paths"
	"github.com/vmcheck/courier/internal/subdesc"
	"github.com/vmcheck/courier/internal/ziputil"
)

type Storer struct {
	cfg   *courseconf.Config
	paths paths.CoursePaths
	repo  *gitrepo.Repo
	locks *alock.Registry
	log   *slog.Logger
}

func New(cfg *courseconf.Config, locks *alock.Registry, log *slog.Logger) (*Storer, error) {
	cp := paths.NewCoursePaths(cfg.Root)
	repo, err := gitrepo.Open(cp.RepoDir())
	if err != nil {
		return nil, err
	}
	return &Storer{
		cfg:   cfg,
		paths: cp,
		repo:  repo,
		locks: locks,
		log:   log,
	}, nil
}

func (s *Storer) Paths() paths.CoursePaths { return s.paths }

func (s *Storer) Repo() *gitrepo.Repo { return s.repo }

// Descriptor builds the submission descriptor for one upload, including
// the result-delivery fields the tester needs to reach back to the storer.
func (s *Storer) Descriptor(assignment, user string, uploadTime time.Time) subdesc.Descriptor {
	sbroot := s.paths.SubmissionRoot(assignment, user)
	return subdesc.Descriptor{
		User:           user,
		Assignment:     assignment,
		CourseID:       s.cfg.CourseID,
		UploadTime:     uploadTime.Format(subdesc.UploadTimeLayout),
		ResultsDest:    filepath.Join(sbroot, "results"),
		RemoteUsername: s.cfg.Storer.Username,
		RemoteHostname: s.cfg.Storer.Hostname,
	}
}

// Store records one submission: historical backup, then under the
// assignment lease the canonical rewrite and one repository commit.
func (s *Storer) Store(assignment, user, archivePath string, uploadTime time.Time) error {
	desc := s.Descriptor(assignment, user, uploadTime)

	histDir := s.historicalDir(assignment, user, desc.UploadTime)
	if err := writeBackup(histDir, archivePath, desc); err != nil {
		return fmt.Errorf("failed to write historical backup: %w", err)
	}
	s.log.Info("stored historical backup", slog.String("dir", histDir))

	return s.locks.With(assignment, func() error {
		canonical := s.paths.SubmissionRoot(assignment, user)
		if _, err := os.Stat(canonical); err == nil {
			if err := os.RemoveAll(canonical); err != nil {
				return fmt.Errorf("failed to clear canonical backup: %w", err)
			}
		}
		if err := writeBackup(canonical, archivePath, desc); err != nil {
			return fmt.Errorf("failed to write canonical backup: %w", err)
		}

		// Only the expanded contents are versioned; the descriptor and
		// the raw archive stay unversioned next to them.
		rel := filepath.ToSlash(filepath.Join(assignment, user, paths.ExpandedArchiveDir))
		msg := fmt.Sprintf("Updated %s's submission for %s", user, assignment)
		if err := s.repo.Commit(rel, msg, uploadTime); err != nil {
			return err
		}
		s.log.Info("committed submission",
			slog.String("assignment", assignment), slog.String("user", user))
		return nil
	})
}

// Historical backups are named
// <course>_<assignment>_<user>_<uploadtime>_<random-suffix> and never
// overwritten.
func (s *Storer) historicalDir(assignment, user, uploadTime string) string {
	name := fmt.Sprintf("%s_%s_%s_%s_%s",
		s.cfg.CourseID, assignment, user, uploadTime, uuid.NewString()[:8])
	return filepath.Join(s.paths.BackupDir(), name)
}

// writeBackup fills one backup directory. Order matters for partial-failure
// safety: the raw archive is copied before anything else so the upload is
// durable no matter what fails later; the descriptor goes next; the
// traversal-checked expansion comes last.
func writeBackup(dir, archivePath string, desc subdesc.Descriptor) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup dir %s: %w", dir, err)
	}
	if err := copyFile(archivePath, paths.ArchivePath(dir)); err != nil {
		return err
	}
	if err := desc.Write(paths.DescriptorPath(dir)); err != nil {
		return err
	}
	if err := ziputil.ExtractSafely(archivePath, paths.ExpandedArchivePath(dir)); err != nil {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
