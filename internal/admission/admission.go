// Package admission decides whether a submission is accepted: the course's
// global upload window and the per-assignment resubmission interval. The
// two rejections are distinct error types so callers can tell a student to
// wait versus telling them the deadline has passed.
package admission

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/paths"
	"github.com/vmcheck/courier/internal/subdesc"
)

// WindowRejectedError reports an upload outside the course's active
// interval. Both bounds are inclusive.
type WindowRejectedError struct {
	Start time.Time
	Stop  time.Time
}

func (e *WindowRejectedError) Error() string {
	return fmt.Sprintf("submissions are only accepted between %s and %s",
		e.Start.Format(subdesc.UploadTimeLayout),
		e.Stop.Format(subdesc.UploadTimeLayout))
}

// TooSoonError reports a resubmission before the minimum interval elapsed.
type TooSoonError struct {
	Wait time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("submitted too soon, please wait %s between submissions", e.Wait)
}

type Checker struct {
	cfg   *courseconf.Config
	paths paths.CoursePaths
}

func NewChecker(cfg *courseconf.Config) *Checker {
	return &Checker{cfg: cfg, paths: paths.NewCoursePaths(cfg.Root)}
}

// CheckWindow admits uploadTime iff active_start <= uploadTime <= active_stop.
func (c *Checker) CheckWindow(uploadTime time.Time) error {
	start, stop, err := c.cfg.ActiveInterval()
	if err != nil {
		return err
	}
	if uploadTime.Before(start) || uploadTime.After(stop) {
		return &WindowRejectedError{Start: start, Stop: stop}
	}
	return nil
}

// CheckInterval rejects a resubmission for (assignment, user) made before
// the assignment's minimum interval has elapsed since the last recorded
// upload. A first submission is always admitted. The clock is read here,
// at check time, never cached.
func (c *Checker) CheckInterval(assignment, user string) error {
	a, err := c.cfg.Assignment(assignment)
	if err != nil {
		return err
	}

	descPath := paths.DescriptorPath(c.paths.SubmissionRoot(assignment, user))
	if _, err := os.Stat(descPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	desc, err := subdesc.Read(descPath)
	if err != nil {
		return fmt.Errorf("failed to read previous submission: %w", err)
	}
	last, err := desc.UploadedAt()
	if err != nil {
		return err
	}

	remaining := last.Add(a.MinInterval.Std()).Sub(time.Now())
	if remaining > 0 {
		return &TooSoonError{Wait: a.MinInterval.Std()}
	}
	return nil
}
