package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/vmcheck/courier/internal/courseconf"
	"github.com/vmcheck/courier/internal/notify"
	"github.com/vmcheck/courier/internal/watcher"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	})))

	cmd := &cli.Command{
		Name:  "watcher",
		Usage: "watch the tester queue directory and run arriving bundles",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "queue-dir", Aliases: []string{"q"}, Required: true,
				Usage: "queue directory bundles are dispatched into"},
			&cli.StringFlag{Name: "tmp-dir", Value: "/tmp/courier",
				Usage: "parent directory for ephemeral bundle workspaces"},
			&cli.StringFlag{Name: "commander", Required: true,
				Usage: "program invoked with each extracted workspace"},
			&cli.DurationFlag{Name: "settle", Value: 2 * time.Second,
				Usage: "how long a queue file must stay unchanged before processing"},
			&cli.DurationFlag{Name: "poll", Value: time.Second,
				Usage: "queue directory scan interval"},
			&cli.BoolFlag{Name: "poll-only",
				Usage: "disable filesystem events, rely on polling"},
			&cli.StringFlag{Name: "nats-subject", Value: "courier.watcher",
				Usage: "subject for status events when COURIER_NATS_URL is set"},
		},
		Action: runWatcher,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("watcher exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func runWatcher(ctx context.Context, cmd *cli.Command) error {
	log := slog.Default()

	sink := notify.NewLogSink(log)
	if url := courseconf.ReadEnvConfig().NatsURL; url != "" {
		nc, err := nats.Connect(url)
		if err != nil {
			return err
		}
		defer nc.Close()
		sink = notify.NewMultiSink(sink, notify.NewNatsSink(nc, cmd.String("nats-subject")))
	}

	w := watcher.New(
		watcher.Options{
			QueueDir:      cmd.String("queue-dir"),
			TmpDir:        cmd.String("tmp-dir"),
			Settle:        cmd.Duration("settle"),
			Poll:          cmd.Duration("poll"),
			DisableEvents: cmd.Bool("poll-only"),
		},
		watcher.ExecCommander(cmd.String("commander"), log),
		sink,
		log,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
