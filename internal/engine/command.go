// Package engine runs the external check engine and diff tools as child processes.
//
// The check engine speaks newline-delimited JSON:
//
//	<cmd> plan --dir DIR -- FONT...   writes one planned check per line
//	<cmd> run  --dir DIR -- FONT...   reads the check order on stdin, one identity per line,
//	                                  and writes one result per line as each check finishes
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

const (
	maxLineBytes   = 16 << 20
	maxStderrBytes = 8 << 10
	defaultWait    = 10 * time.Second
)

// CommandConfig configures a check engine command.
type CommandConfig struct {
	Path string
	Args []string
	// Env is appended to the worker's environment.
	Env []string
	// WaitDelay bounds how long a canceled engine may keep its output pipes open.
	WaitDelay time.Duration
	Logger    *slog.Logger
}

// Command is a CheckEngine backed by an external executable.
type Command struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommand creates a Command. Path is required.
func NewCommand(cfg CommandConfig) (*Command, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("check engine path is required")
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{cfg: cfg, logger: logger.With("component", "check_engine")}, nil
}

type checkLine struct {
	Section     string                    `json:"section"`
	CheckID     string                    `json:"check_id"`
	IterArgs    []model.IterArg           `json:"iterargs,omitempty"`
	Description string                    `json:"description,omitempty"`
	Result      model.CheckResultCategory `json:"result,omitempty"`
	Statuses    []model.StatusLogEntry    `json:"statuses,omitempty"`
}

func (l checkLine) identity() model.CheckIdentity {
	return model.CheckIdentity{Section: l.Section, CheckID: l.CheckID, IterArgs: l.IterArgs}
}

// Plan implements core.CheckEngine.
func (c *Command) Plan(ctx context.Context, dir string, fonts []string) (*model.CheckPlan, error) {
	plan := &model.CheckPlan{Descriptions: map[string]string{}}
	err := c.exec(ctx, "plan", dir, fonts, nil, func(line checkLine) error {
		if line.CheckID == "" {
			return errors.New("planned check without check_id")
		}
		plan.Order = append(plan.Order, line.identity())
		if line.Description != "" {
			plan.Descriptions[line.CheckID] = line.Description
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Run implements core.CheckEngine.
func (c *Command) Run(ctx context.Context, req model.CheckRun, emit func(model.CheckResult) error) error {
	var stdin bytes.Buffer
	enc := json.NewEncoder(&stdin)
	for _, id := range req.Order {
		if err := enc.Encode(checkLine{Section: id.Section, CheckID: id.CheckID, IterArgs: id.IterArgs}); err != nil {
			return fmt.Errorf("encode check order: %w", err)
		}
	}

	var emitErr error
	err := c.exec(ctx, "run", req.Dir, req.Fonts, &stdin, func(line checkLine) error {
		if line.Result == "" {
			return fmt.Errorf("result line for %s has no result", line.CheckID)
		}
		if err := emit(model.CheckResult{
			Identity:  line.identity(),
			Result:    line.Result,
			StatusLog: line.Statuses,
		}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	return err
}

// exec starts the engine, feeds each decoded stdout line to handle and waits for exit.
// When handle fails the process is killed and handle's error is returned.
func (c *Command) exec(
	ctx context.Context,
	verb, dir string,
	fonts []string,
	stdin io.Reader,
	handle func(checkLine) error,
) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := append(append([]string{}, c.cfg.Args...), verb, "--dir", dir, "--")
	args = append(args, fonts...)

	// #nosec G204 -- engine path and args come from worker configuration, fonts are validated names
	cmd := exec.CommandContext(runCtx, c.cfg.Path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stdin = stdin
	cmd.WaitDelay = c.cfg.WaitDelay
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "open check engine stdout")
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeExternalTool, "start check engine %s", verb)
	}

	handleErr := scanLines(stdout, handle)
	if handleErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	c.logger.DebugContext(ctx, "check engine exited",
		"verb", verb,
		"fonts", len(fonts),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if handleErr != nil {
		return handleErr
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return toolError(waitErr, "check engine "+verb, stderr.String())
	}
	return nil
}

func scanLines(r io.Reader, handle func(checkLine) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line checkLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "decode check engine output")
		}
		if err := handle(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "read check engine output")
	}
	return nil
}

// toolError turns a failed Wait into an external tool error carrying the exit code and the tail
// of stderr.
func toolError(err error, what, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("%s failed (exit %d)", what, exitErr.ExitCode())
		if s := strings.TrimSpace(stderr); s != "" {
			msg += ": " + s
		}
		return apperrors.Wrap(err, apperrors.ErrCodeExternalTool, msg)
	}
	return apperrors.Wrapf(err, apperrors.ErrCodeExternalTool, "%s", what)
}

// limitedBuffer keeps the last max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
