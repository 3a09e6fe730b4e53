package admission_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vmcheck/courier/internal/admission"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/paths"
	"github.com/vmcheck/courier/internal/subdesc"
)

func newConfig(t *testing.T) *courseconf.Config {
	t.Helper()
	return &courseconf.Config{
		CourseID: "cs101",
		Root:     t.TempDir(),
		Window: courseconf.UploadWindow{
			ActiveStart: "2024.01.01 00:00:00",
			ActiveStop:  "2024.01.31 23:59:59",
		},
		Assignments: map[string]courseconf.Assignment{
			"lab1": {Machine: "linux-vm", MinInterval: courseconf.Duration(time.Hour)},
		},
	}
}

// recordUpload plants a canonical descriptor as if a submission at the
// given time had already been stored.
func recordUpload(t *testing.T, cfg *courseconf.Config, assignment, user string, at time.Time) {
	t.Helper()
	sbroot := paths.NewCoursePaths(cfg.Root).SubmissionRoot(assignment, user)
	require.NoError(t, os.MkdirAll(sbroot, 0755))
	d := subdesc.Descriptor{
		User:       user,
		Assignment: assignment,
		CourseID:   cfg.CourseID,
		UploadTime: at.Format(subdesc.UploadTimeLayout),
	}
	require.NoError(t, d.Write(paths.DescriptorPath(sbroot)))
}

func TestWindowInclusiveBounds(t *testing.T) {
	c := admission.NewChecker(newConfig(t))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	stop := time.Date(2024, 1, 31, 23, 59, 59, 0, time.Local)

	require.NoError(t, c.CheckWindow(start))
	require.NoError(t, c.CheckWindow(stop))
	require.NoError(t, c.CheckWindow(time.Date(2024, 1, 10, 10, 0, 0, 0, time.Local)))

	var window *admission.WindowRejectedError
	err := c.CheckWindow(start.Add(-time.Second))
	require.ErrorAs(t, err, &window)
	require.Equal(t, start, window.Start)
	require.Equal(t, stop, window.Stop)

	require.ErrorAs(t, c.CheckWindow(stop.Add(time.Second)), &window)
}

func TestFirstSubmissionAdmitted(t *testing.T) {
	c := admission.NewChecker(newConfig(t))
	require.NoError(t, c.CheckInterval("lab1", "alice"))
}

func TestResubmissionTooSoon(t *testing.T) {
	cfg := newConfig(t)
	c := admission.NewChecker(cfg)

	recordUpload(t, cfg, "lab1", "alice", time.Now().Add(-10*time.Minute))

	var tooSoon *admission.TooSoonError
	err := c.CheckInterval("lab1", "alice")
	require.ErrorAs(t, err, &tooSoon)
	require.Equal(t, time.Hour, tooSoon.Wait)

	// Another user is unaffected.
	require.NoError(t, c.CheckInterval("lab1", "bob"))
}

func TestResubmissionAfterInterval(t *testing.T) {
	cfg := newConfig(t)
	c := admission.NewChecker(cfg)

	recordUpload(t, cfg, "lab1", "alice", time.Now().Add(-2*time.Hour))
	require.NoError(t, c.CheckInterval("lab1", "alice"))
}

func TestUnknownAssignmentRejected(t *testing.T) {
	c := admission.NewChecker(newConfig(t))
	require.Error(t, c.CheckInterval("lab99", "alice"))
}
