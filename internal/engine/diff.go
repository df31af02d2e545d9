package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/target/fbdispatch/internal/errors"
)

// DiffCommandConfig configures a diff tool command.
type DiffCommandConfig struct {
	Path      string
	Args      []string
	Env       []string
	WaitDelay time.Duration
	Logger    *slog.Logger
}

// DiffCommand is a DiffTool backed by an external executable invoked as
// <path> [args] --before DIR --after DIR --out DIR.
type DiffCommand struct {
	cfg    DiffCommandConfig
	logger *slog.Logger
}

// NewDiffCommand creates a DiffCommand. Path is required.
func NewDiffCommand(cfg DiffCommandConfig) (*DiffCommand, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("diff tool path is required")
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DiffCommand{cfg: cfg, logger: logger.With("component", "diff_tool")}, nil
}

// Diff implements core.DiffTool. Tool output is forwarded to the log line by line.
func (d *DiffCommand) Diff(ctx context.Context, beforeDir, afterDir, outDir string) error {
	args := append(append([]string{}, d.cfg.Args...), "--before", beforeDir, "--after", afterDir, "--out", outDir)

	// #nosec G204 -- tool path and args come from worker configuration
	cmd := exec.CommandContext(ctx, d.cfg.Path, args...)
	cmd.Env = append(os.Environ(), d.cfg.Env...)
	cmd.WaitDelay = d.cfg.WaitDelay
	stderr := &limitedBuffer{max: maxStderrBytes}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "open diff tool stdout")
	}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "start diff tool")
	}
	d.forward(ctx, stdout)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return toolError(err, "diff tool", stderr.String())
	}
	return nil
}

func (d *DiffCommand) forward(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			d.logger.DebugContext(ctx, "diff tool output", "line", line)
		}
	}
	// Whatever the scanner could not read is discarded so the tool never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
