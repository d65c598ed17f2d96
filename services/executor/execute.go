// Package executor triggers pipeline executions for changed pipelines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"dpcdeploy/pkg/platform"
)

// PipelineRunner starts a single pipeline execution.
type PipelineRunner interface {
	ExecutePipeline(ctx context.Context, pipelineName, environmentName string) (*platform.Execution, error)
}

// ExecuteConfig configures a batch of executions.
type ExecuteConfig struct {
	Pipelines       []string
	EnvironmentName string
	Runner          PipelineRunner
	Logger          zerolog.Logger
	Stdout          io.Writer
}

// Execute runs each pipeline in order and stops at the first failure. The
// executions that succeeded before the failure are returned alongside the error.
func Execute(ctx context.Context, cfg ExecuteConfig) ([]*platform.Execution, error) {
	if cfg.Runner == nil {
		return nil, errors.New("pipeline runner is required")
	}
	if cfg.EnvironmentName == "" {
		return nil, errors.New("environment name is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	executions := make([]*platform.Execution, 0, len(cfg.Pipelines))
	for _, name := range cfg.Pipelines {
		if err := ctx.Err(); err != nil {
			return executions, err
		}
		exec, err := cfg.Runner.ExecutePipeline(ctx, name, cfg.EnvironmentName)
		if err != nil {
			return executions, fmt.Errorf("execute %q: %w", name, err)
		}
		if exec.DecodeErr != nil {
			cfg.Logger.Debug().Err(exec.DecodeErr).Str("pipeline", name).Msg("execution accepted without a readable id")
		}
		cfg.Logger.Info().Str("pipeline", name).Str("execution_id", exec.ID).Int("status", exec.StatusCode).Msg("pipeline execution requested")
		fmt.Fprintf(cfg.Stdout, "Executed pipeline: %s\n", name)
		fmt.Fprintf(cfg.Stdout, "Status Code: %d\n", exec.StatusCode)
		if len(exec.Body) > 0 {
			fmt.Fprintf(cfg.Stdout, "%s\n", exec.Body)
		}
		executions = append(executions, exec)
	}
	return executions, nil
}
