package cwlrunner

import (
	"context"
	"time"

	"github.com/cwlworks/cwlrun/internal/cmdline"
	"github.com/cwlworks/cwlrun/internal/toolexec"
	"github.com/cwlworks/cwlrun/pkg/cwl"
)

// GPUConfig controls GPU passthrough for Docker and Apptainer container execution.
type GPUConfig struct {
	Enabled  bool   // Whether to expose GPUs to the container
	DeviceID string // Specific GPU device(s), e.g. "0" or "0,1"; empty means all
}

// ExecutionResult is the outcome of running a single tool, including the
// resource metrics executeToolWithStepID folds into step metrics.
type ExecutionResult struct {
	Outputs      map[string]any
	ExitCode     int
	PeakMemoryKB int64
	StartTime    time.Time
	Duration     time.Duration
}

// toolExecutor lazily builds the shared toolexec.Executor, the same
// local/Docker/Apptainer runner used by any out-of-process caller of this
// package's execution logic.
func (r *Runner) toolExecutor() *toolexec.Executor {
	if r.toolExec == nil {
		r.toolExec = toolexec.NewExecutor(r.logger)
	}
	return r.toolExec
}

func (r *Runner) runWithExecutor(ctx context.Context, opts *toolexec.Options) (*ExecutionResult, error) {
	result, err := r.toolExecutor().Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Outputs:      result.Outputs,
		ExitCode:     result.ExitCode,
		PeakMemoryKB: result.PeakMemoryKB,
		StartTime:    result.StartTime,
		Duration:     result.Duration,
	}, nil
}

// executeLocalWithWorkDir runs a tool directly on the host in workDir, which
// the caller has already created and staged (InitialWorkDirRequirement, etc).
func (r *Runner) executeLocalWithWorkDir(ctx context.Context, tool *cwl.CommandLineTool, cmdResult *cmdline.BuildResult, inputs map[string]any, workDir string) (*ExecutionResult, error) {
	return r.runWithExecutor(ctx, &toolexec.Options{
		Tool:       tool,
		Command:    cmdResult,
		Inputs:     inputs,
		WorkDir:    workDir,
		OutDir:     r.OutDir,
		Mode:       toolexec.ModeLocal,
		Namespaces: r.namespaces,
	})
}

// executeInDockerWithWorkDir runs a tool inside dockerImage, mounting workDir
// as the container's working directory.
func (r *Runner) executeInDockerWithWorkDir(ctx context.Context, tool *cwl.CommandLineTool, cmdResult *cmdline.BuildResult, inputs map[string]any, dockerImage string, workDir string) (*ExecutionResult, error) {
	return r.runWithExecutor(ctx, &toolexec.Options{
		Tool:        tool,
		Command:     cmdResult,
		Inputs:      inputs,
		WorkDir:     workDir,
		OutDir:      r.OutDir,
		Mode:        toolexec.ModeDocker,
		DockerImage: dockerImage,
		Namespaces:  r.namespaces,
		GPU:         toolexec.GPUConfig{Enabled: r.GPU.Enabled, DeviceID: r.GPU.DeviceID},
	})
}

// executeInApptainerWithWorkDir runs a tool inside dockerImage via Apptainer,
// mounting workDir as the container's working directory.
func (r *Runner) executeInApptainerWithWorkDir(ctx context.Context, tool *cwl.CommandLineTool, cmdResult *cmdline.BuildResult, inputs map[string]any, dockerImage string, workDir string) (*ExecutionResult, error) {
	return r.runWithExecutor(ctx, &toolexec.Options{
		Tool:        tool,
		Command:     cmdResult,
		Inputs:      inputs,
		WorkDir:     workDir,
		OutDir:      r.OutDir,
		Mode:        toolexec.ModeApptainer,
		DockerImage: dockerImage,
		Namespaces:  r.namespaces,
		GPU:         toolexec.GPUConfig{Enabled: r.GPU.Enabled, DeviceID: r.GPU.DeviceID},
	})
}
