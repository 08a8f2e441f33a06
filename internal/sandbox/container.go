package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

// resultMarker prefixes the one line of output the sandbox treats as the
// code's final value. errorMarker prefixes a line carrying a caught
// exception's message. The Orchestrator's prompt assembly instructs the
// model's generated code to wrap its body so it always emits one or the
// other as its last line, regardless of language.
const (
	resultMarker = "__RESULT__:"
	errorMarker  = "__ERROR__:"
)

const scriptPath = "/tmp/code.src"
const loaderShimPath = "/tmp/tabular_loader.py"

// dataMountTarget is the fixed, read-only path the uploaded data directory
// is bind-mounted to inside every execution container. Generated code
// reads files from here, the same way the project's Go Loader reads them
// from config.Config.DataDir on the worker side.
const dataMountTarget = "/data"

// runtime describes how to execute one language's code: the image that
// has the interpreter installed, the shell steps needed to make the
// tabular-reading shim importable, and how to turn a path to the uploaded
// source into a shell command.
type runtime struct {
	image   string
	prelude string
	command func(path string) []string
}

var runtimes = map[string]runtime{
	"python": {
		image:   "python:3.12-slim",
		prelude: "pip install --quiet --no-cache-dir pandas==2.2.2 openpyxl==3.1.2",
		command: func(path string) []string { return []string{"python3", path} },
	},
	"": {
		image:   "python:3.12-slim",
		prelude: "pip install --quiet --no-cache-dir pandas==2.2.2 openpyxl==3.1.2",
		command: func(path string) []string { return []string{"python3", path} },
	},
}

// ContainerExecutor runs each code block in a fresh, disposable container
// via testcontainers-go: start it with the code already written to disk
// through its command line, wait for it to exit, read back its combined
// log, then terminate it. No container outlives a single Execute call.
type ContainerExecutor struct {
	log     *logger.Logger
	dataDir string
}

// NewContainerExecutor builds an Executor that bind-mounts dataDir
// read-only into every container it starts, at dataMountTarget, so
// generated code can read the same uploaded files the Schema Inspector
// already described to the model.
func NewContainerExecutor(log *logger.Logger, dataDir string) *ContainerExecutor {
	return &ContainerExecutor{log: log.With("component", "SandboxExecutor"), dataDir: dataDir}
}

func (e *ContainerExecutor) Execute(ctx context.Context, language, source string) (Result, error) {
	rt, ok := runtimes[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	encodedSource := base64.StdEncoding.EncodeToString([]byte(source))
	encodedShim := base64.StdEncoding.EncodeToString([]byte(loaderShimSource))
	writeScript := fmt.Sprintf("echo %s | base64 -d > %s", encodedSource, scriptPath)
	writeShim := fmt.Sprintf("echo %s | base64 -d > %s", encodedShim, loaderShimPath)
	run := strings.Join(rt.command(scriptPath), " ")
	steps := []string{writeShim, writeScript, rt.prelude, "cd /tmp", run}

	start := time.Now()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: rt.image,
			Cmd:   []string{"sh", "-c", strings.Join(steps, " && ")},
			Mounts: testcontainers.ContainerMounts{
				testcontainers.ContainerMount{
					Source:   testcontainers.GenericBindMountSource{HostPath: e.dataDir},
					Target:   testcontainers.ContainerMountTarget(dataMountTarget),
					ReadOnly: true,
				},
			},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	defer func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(termCtx); err != nil {
			e.log.Warn("failed to terminate sandbox container", "error", err)
		}
	}()

	exitCode := -1
	if state, stateErr := container.State(ctx); stateErr == nil && state != nil {
		exitCode = state.ExitCode
	}

	var combined string
	if logs, logsErr := container.Logs(ctx); logsErr == nil {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(logs)
		_ = logs.Close()
		combined = buf.String()
	} else {
		e.log.Warn("failed to read sandbox container logs", "error", logsErr)
	}

	stdout, stderr, finalValue := splitMarkedOutput(combined)
	return Result{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		FinalValue: finalValue,
		Duration:   time.Since(start),
	}, nil
}

// splitMarkedOutput pulls the sentinel-prefixed result and error lines, if
// present, out of the combined log stream. Docker's log stream does not
// expose stdout and stderr as two independently readable channels once
// demuxed by testcontainers, so a caught exception is distinguished by the
// errorMarker convention rather than by which file descriptor it came from.
func splitMarkedOutput(combined string) (stdout, stderr, finalValue string) {
	lines := strings.Split(strings.TrimRight(combined, "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, resultMarker):
			finalValue = strings.TrimPrefix(line, resultMarker)
		case strings.HasPrefix(line, errorMarker):
			stderr = strings.TrimPrefix(line, errorMarker)
		default:
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), stderr, finalValue
}
