package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"packrat/internal/logger"
	"packrat/internal/model"

	"go.uber.org/zap"
)

// Result is the outcome of one pipeline invocation. Exit code contract:
// 0 clean, 2 completed with warnings, anything else failure. The run lock
// held around an invocation is a courtesy; the pipeline carries its own
// internal guards and tolerates concurrent invocation.
type Result struct {
	Status   model.RunStatus
	ExitCode int
	ErrMsg   string
}

// Runner invokes the external execution pipeline for one project.
type Runner interface {
	Run(ctx context.Context, project model.Project, force bool) Result
}

// ExecRunner runs the pipeline as a single command:
//
//	<cmd...> [--force] <project path>
type ExecRunner struct {
	command []string
}

func NewExecRunner(command []string) (*ExecRunner, error) {
	if len(command) == 0 {
		return nil, errors.New("pipeline command not configured")
	}
	return &ExecRunner{command: command}, nil
}

func (r *ExecRunner) Run(ctx context.Context, project model.Project, force bool) Result {
	args := append([]string{}, r.command[1:]...)
	if force {
		args = append(args, "--force")
	}
	args = append(args, project.Path)

	cmd := exec.CommandContext(ctx, r.command[0], args...)
	out, err := cmd.CombinedOutput()

	switch {
	case err == nil:
		return Result{Status: model.RunBackedUp}

	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code == 2 {
				logger.Log.Warn("pipeline completed with warnings",
					zap.String("project", project.Name))
				return Result{Status: model.RunWithWarnings, ExitCode: code}
			}

			logger.Log.Error("pipeline failed",
				zap.String("project", project.Name),
				zap.Int("exit_code", code),
				zap.ByteString("output", tail(out, 512)))
			return Result{
				Status:   model.RunFailed,
				ExitCode: code,
				ErrMsg:   fmt.Sprintf("pipeline exited %d", code),
			}
		}

		return Result{
			Status:   model.RunFailed,
			ExitCode: -1,
			ErrMsg:   err.Error(),
		}
	}
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
