package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/vmcheck/courier/internal/admission"
	"github.com/vmcheck/courier/internal/alock"
	"github.com/vmcheck/courier/internal/bundle"
	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/dispatch"
	"github.com/vmcheck/courier/internal/intake"
	"github.com/vmcheck/courier/internal/storer"
	"github.com/vmcheck/courier/internal/subdesc"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	})))

	cmd := &cli.Command{
		Name:  "submit",
		Usage: "record a homework submission and queue it for testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "course-config", Aliases: []string{"c"}, Required: true,
				Usage: "path to the course configuration file"},
			&cli.StringFlag{Name: "assignment", Aliases: []string{"a"}, Required: true},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "archive", Required: true,
				Usage: "path to the uploaded zip archive"},
			&cli.BoolFlag{Name: "skip-time-check",
				Usage: "bypass the resubmission interval check"},
			&cli.StringFlag{Name: "upload-time",
				Usage: "force the upload time (format: " + subdesc.UploadTimeLayout + "); implies --skip-time-check"},
		},
		Action: runSubmit,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

func runSubmit(ctx context.Context, cmd *cli.Command) error {
	cfg, err := courseconf.Load(cmd.String("course-config"))
	if err != nil {
		return fail(err)
	}
	courseconf.ReadEnvConfig().Apply(cfg)

	params := intake.SubmitParams{
		ArchivePath:   cmd.String("archive"),
		Assignment:    cmd.String("assignment"),
		User:          cmd.String("user"),
		SkipTimeCheck: cmd.Bool("skip-time-check"),
	}
	if raw := cmd.String("upload-time"); raw != "" {
		t, err := time.ParseInLocation(subdesc.UploadTimeLayout, raw, time.Local)
		if err != nil {
			return fail(fmt.Errorf("invalid --upload-time: %w", err))
		}
		params.ForcedUploadTime = &t
	}

	log := slog.Default()
	locks := alock.NewRegistry()
	store, err := storer.New(cfg, locks, log)
	if err != nil {
		return fail(err)
	}
	pipeline := intake.New(
		cfg,
		admission.NewChecker(cfg),
		store,
		bundle.NewBuilder(cfg, locks, log),
		dispatch.New(cfg.Storer.SSHKey, log),
		log,
	)

	if err := pipeline.Submit(ctx, params); err != nil {
		return report(err)
	}
	color.Green("Submission for %s/%s accepted and queued for testing.",
		params.Assignment, params.User)
	return nil
}

// report prints the rejection the way a student should see it: waiting and
// window violations are expected outcomes, everything else is a pipeline
// failure.
func report(err error) error {
	var window *admission.WindowRejectedError
	var tooSoon *admission.TooSoonError
	switch {
	case errors.As(err, &window):
		color.Yellow("%s", window.Error())
	case errors.As(err, &tooSoon):
		color.Yellow("%s", tooSoon.Error())
	default:
		return fail(err)
	}
	return err
}

func fail(err error) error {
	color.Red("submit failed: %v", err)
	return err
}
