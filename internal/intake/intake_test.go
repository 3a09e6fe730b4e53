package intake_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/vmcheck/courier/internal/admission"
	"github.com/vmcheck/courier/internal/alock"
	"github.com/vmcheck/courier/internal/bundle"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/intake"
	"github.com/vmcheck/courier/internal/storer"
	"github.com/vmcheck/courier/internal/subdesc"
	"github.com/vmcheck/courier/internal/ziputil"
)

const configTemplate = `
course_id = "cs101"
root = %q

[upload_window]
active_start = %q
active_stop  = %q

[storer]
username = "vmcheck"
hostname = "storer.example.edu"

[assignments.lab1]
machine      = "linux-vm"
min_interval = "1h"
tests        = "tests/lab1.zip"

[machines.linux-vm]
build_script = "scripts/build.sh"
run_script   = "scripts/run.sh"
tester       = "vm-tester"

[testers.vm-tester]
username  = "tester"
hostname  = "tester.example.edu"
queue_dir = "/var/vmcheck/queue"
`

type fakeDispatcher struct {
	bundles []string
	testers []courseconf.Tester
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, bundlePath string, tester courseconf.Tester) error {
	if f.err != nil {
		return f.err
	}
	f.bundles = append(f.bundles, bundlePath)
	f.testers = append(f.testers, tester)
	return nil
}

type fixture struct {
	cfg        *courseconf.Config
	pipeline   *intake.Intake
	store      *storer.Storer
	dispatcher *fakeDispatcher
}

// newFixture builds a course whose upload window spans the given interval
// and wires the full pipeline with a fake dispatcher.
func newFixture(t *testing.T, start, stop time.Time) *fixture {
	t.Helper()
	root := t.TempDir()

	cfgPath := filepath.Join(root, "course-config")
	content := fmt.Sprintf(configTemplate, root,
		start.Format(subdesc.UploadTimeLayout), stop.Format(subdesc.UploadTimeLayout))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "build.sh"), []byte("#!/bin/sh\nmake\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "run.sh"), []byte("#!/bin/sh\n./main\n"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tests"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tests", "lab1.zip"), []byte("PK\x05\x06"), 0644))

	cfg, err := courseconf.Load(cfgPath)
	require.NoError(t, err)

	log := slog.Default()
	locks := alock.NewRegistry()
	store, err := storer.New(cfg, locks, log)
	require.NoError(t, err)

	dispatcher := &fakeDispatcher{}
	pipeline := intake.New(cfg, admission.NewChecker(cfg), store,
		bundle.NewBuilder(cfg, locks, log), dispatcher, log)

	return &fixture{cfg: cfg, pipeline: pipeline, store: store, dispatcher: dispatcher}
}

func makeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	zw := zip.NewWriter(out)
	for name, content := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestSubmitEndToEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	stop := time.Date(2024, 1, 31, 23, 59, 59, 0, time.Local)
	fx := newFixture(t, start, stop)

	archive := filepath.Join(t.TempDir(), "hw1.zip")
	makeZip(t, archive, map[string]string{"main.c": "int main() { return 0; }\n"})

	forced := time.Date(2024, 1, 10, 10, 0, 0, 0, time.Local)
	err := fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath:      archive,
		Assignment:       "lab1",
		User:             "alice",
		ForcedUploadTime: &forced,
	})
	require.NoError(t, err)

	// One commit, one dispatched bundle, addressed to the right tester.
	n, err := fx.store.Repo().CommitCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, fx.dispatcher.bundles, 1)
	require.FileExists(t, fx.dispatcher.bundles[0])
	require.Equal(t, "tester.example.edu", fx.dispatcher.testers[0].Hostname)
}

func TestSubmitOutsideWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	stop := time.Date(2024, 1, 31, 23, 59, 59, 0, time.Local)
	fx := newFixture(t, start, stop)

	archive := filepath.Join(t.TempDir(), "hw1.zip")
	makeZip(t, archive, map[string]string{"main.c": "x\n"})

	late := stop.Add(time.Second)
	err := fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath:      archive,
		Assignment:       "lab1",
		User:             "alice",
		ForcedUploadTime: &late,
	})

	var window *admission.WindowRejectedError
	require.ErrorAs(t, err, &window)
	require.Equal(t, start, window.Start)
	require.Equal(t, stop, window.Stop)
	require.Empty(t, fx.dispatcher.bundles)

	// Exact boundary is accepted.
	err = fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath:      archive,
		Assignment:       "lab1",
		User:             "alice",
		ForcedUploadTime: &stop,
	})
	require.NoError(t, err)
}

func TestSubmitRateLimited(t *testing.T) {
	// Window around the real clock so the rate limiter path runs.
	fx := newFixture(t, time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))

	archive := filepath.Join(t.TempDir(), "hw1.zip")
	makeZip(t, archive, map[string]string{"main.c": "x\n"})

	params := intake.SubmitParams{
		ArchivePath: archive,
		Assignment:  "lab1",
		User:        "alice",
	}
	require.NoError(t, fx.pipeline.Submit(context.Background(), params))

	var tooSoon *admission.TooSoonError
	err := fx.pipeline.Submit(context.Background(), params)
	require.ErrorAs(t, err, &tooSoon)
	require.Equal(t, time.Hour, tooSoon.Wait)
	require.Len(t, fx.dispatcher.bundles, 1)

	// skip-time-check bypasses only the rate limiter.
	params.SkipTimeCheck = true
	require.NoError(t, fx.pipeline.Submit(context.Background(), params))
	require.Len(t, fx.dispatcher.bundles, 2)

	// A different user on the same assignment is not limited.
	require.NoError(t, fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath: archive,
		Assignment:  "lab1",
		User:        "bob",
	}))
}

func TestSubmitUnsafeArchiveIsStoreError(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))

	archive := filepath.Join(t.TempDir(), "evil.zip")
	makeZip(t, archive, map[string]string{"../escape.txt": "no\n"})

	err := fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath: archive,
		Assignment:  "lab1",
		User:        "mallory",
	})

	var storeErr *intake.StoreError
	require.ErrorAs(t, err, &storeErr)
	var unsafeErr *ziputil.UnsafeEntryError
	require.ErrorAs(t, err, &unsafeErr)
	require.Empty(t, fx.dispatcher.bundles)
}

func TestSubmitDispatchFailureAfterDurableStore(t *testing.T) {
	fx := newFixture(t, time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	fx.dispatcher.err = fmt.Errorf("connection refused")

	archive := filepath.Join(t.TempDir(), "hw1.zip")
	makeZip(t, archive, map[string]string{"main.c": "x\n"})

	err := fx.pipeline.Submit(context.Background(), intake.SubmitParams{
		ArchivePath: archive,
		Assignment:  "lab1",
		User:        "alice",
	})
	require.Error(t, err)

	// The store already succeeded; re-dispatch must not need a re-store.
	n, err := fx.store.Repo().CommitCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
