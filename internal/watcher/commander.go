package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// ExecCommander invokes an external program with the workspace path as its
// only argument and waits for it to finish. Output goes to the log; a
// non-zero exit is the commander's failure and stays scoped to the bundle.
func ExecCommander(program string, log *slog.Logger) Commander {
	return func(ctx context.Context, workspace string) error {
		cmd := exec.CommandContext(ctx, program, workspace)
		out, err := cmd.CombinedOutput()
		if len(out) > 0 {
			log.Info("commander output",
				slog.String("program", program), slog.String("output", string(out)))
		}
		if err != nil {
			return fmt.Errorf("commander %s failed: %w", program, err)
		}
		return nil
	}
}
