// Package engine runs the external training engine and decodes the JSON
// document it prints on standard output.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"nnfit/internal/models"
	"nnfit/internal/paramfile"

	"go.uber.org/zap"
)

var (
	// ErrEngineNotFound is returned when the engine cannot be located or started
	ErrEngineNotFound = errors.New("engine not found")
	// ErrEngineOutput is returned when stdout does not follow the engine schema
	ErrEngineOutput = errors.New("malformed engine output")
	// ErrEngineTimeout is returned when the engine exceeds its time budget
	ErrEngineTimeout = errors.New("engine timed out")
	// ErrBuildFailed is returned when the engine cannot be compiled
	ErrBuildFailed = errors.New("engine build failed")
)

const (
	defaultBuildTool = "make"
	waitDelay        = 5 * time.Second
	maxStderr        = 4096
)

// Config for the engine gateway
type Config struct {
	Executable string        // path of the engine binary
	WorkDir    string        // working directory of the engine process
	ConfigPath string        // configuration file read by the engine
	Timeout    time.Duration // 0 waits forever
	BuildTool  string        // default: "make"
}

// Engine invokes the training engine as a child process
type Engine struct {
	executable string
	workDir    string
	configPath string
	timeout    time.Duration
	buildTool  string
	logger     *zap.Logger
}

// New creates an engine gateway
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("engine executable is required")
	}
	if cfg.BuildTool == "" {
		cfg.BuildTool = defaultBuildTool
	}

	executable := cfg.Executable
	if strings.ContainsRune(executable, filepath.Separator) {
		abs, err := filepath.Abs(executable)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve engine path: %w", err)
		}
		executable = abs
	}

	return &Engine{
		executable: executable,
		workDir:    cfg.WorkDir,
		configPath: cfg.ConfigPath,
		timeout:    cfg.Timeout,
		buildTool:  cfg.BuildTool,
		logger:     logger,
	}, nil
}

// Executable returns the resolved engine path
func (e *Engine) Executable() string {
	return e.executable
}

// Run serializes p to the engine's configuration file and invokes the engine
func (e *Engine) Run(ctx context.Context, p models.ParameterSet) (*models.EngineResult, error) {
	if e.configPath == "" {
		return nil, fmt.Errorf("engine config path is not set")
	}
	if err := paramfile.Write(p, e.configPath); err != nil {
		return nil, err
	}
	return e.Invoke(ctx)
}

// Invoke starts the engine without arguments, waits for it to exit and
// parses its standard output. A non-zero exit status is not an error here;
// it is reported in EngineResult.ExitCode.
func (e *Engine) Invoke(ctx context.Context) (*models.EngineResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.executable)
	cmd.Dir = e.workDir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	exitCode := 0

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrEngineTimeout, e.timeout)
			}
			return nil, ctxErr
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrEngineNotFound, e.executable, err)
		}
		exitCode = exitErr.ExitCode()
	}

	result, err := ParseOutput(stdout.Bytes())
	if err != nil {
		if exitCode != 0 {
			return nil, fmt.Errorf("%w (exit status %d, stderr: %s)", err, exitCode, tail(stderr.String()))
		}
		return nil, err
	}
	result.ExitCode = exitCode
	result.Stderr = tail(stderr.String())

	e.logger.Debug("Engine run finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("exit_code", exitCode),
		zap.Int("epochs", len(result.Loss)))

	return result, nil
}

// Compile builds the engine with the build tool inside sourceDir
func (e *Engine) Compile(ctx context.Context, sourceDir string) error {
	cmd := exec.CommandContext(ctx, e.buildTool)
	cmd.Dir = sourceDir
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s in %s: %v: %s", ErrBuildFailed, e.buildTool, sourceDir, err, tail(string(output)))
	}

	e.logger.Info("Engine compiled",
		zap.String("source_dir", sourceDir),
		zap.String("build_tool", e.buildTool))
	return nil
}

// tail keeps the end of a process stream, which is where errors usually are
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
