// Package executor runs migration scripts as external commands with output
// capture, environment variable management, and context support. The
// ScriptRunner interface is the capability boundary the migration engine
// depends on, so tests can swap the real subprocess mechanism for a double
// that records invocations and returns synthetic outcomes.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// EnvPipelineFile names the environment variable carrying the pipeline
// definition path into a migration script, alongside the positional
// argument.
const EnvPipelineFile = "PMT_PIPELINE_FILE"

// Result holds the output and outcome of one script execution.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	Err      error
}

// ScriptRunner executes a migration script against a pipeline definition
// file.
type ScriptRunner interface {
	// Run invokes script against pipelineFile. A non-nil error covers both
	// failures to start the process and non-zero exits; the Result carries
	// the captured output and exit code either way.
	Run(ctx context.Context, script []byte, pipelineFile string, opts ...Option) (*Result, error)
}

// Options configures script execution behavior.
type Options struct {
	// WorkingDir is the script's working directory. Empty defaults to the
	// directory containing the pipeline file.
	WorkingDir string

	// Env is appended to the current environment.
	Env map[string]string

	// CombinedWriter additionally receives interleaved stdout/stderr,
	// e.g. for console streaming.
	CombinedWriter io.Writer
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithCombinedWriter streams interleaved output to w in addition to
// capturing it.
func WithCombinedWriter(w io.Writer) Option {
	return func(o *Options) { o.CombinedWriter = w }
}

// BashRunner runs scripts with bash, the interpreter migration scripts are
// authored for. The script content is written to a temporary file and
// invoked as `bash <script> <pipeline-file>`.
type BashRunner struct {
	program string
}

// NewBashRunner creates a BashRunner.
func NewBashRunner() *BashRunner {
	return &BashRunner{program: "bash"}
}

var _ ScriptRunner = (*BashRunner)(nil)

// Run implements ScriptRunner. Once the script has started there is no
// mid-execution cancellation beyond the context killing the process; the
// caller wraps the whole run in any overall timeout.
func (b *BashRunner) Run(ctx context.Context, script []byte, pipelineFile string, opts ...Option) (*Result, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	scriptFile, err := writeScriptFile(script)
	if err != nil {
		return nil, err
	}
	defer os.Remove(scriptFile)

	cmd := exec.CommandContext(ctx, b.program, scriptFile, pipelineFile)
	b.setupCommand(cmd, pipelineFile, options)
	stdoutBuf, stderrBuf, combinedBuf := setupOutputCapture(cmd, options)

	runErr := cmd.Run()
	result := createResult(stdoutBuf, stderrBuf, combinedBuf, runErr)

	if runErr != nil {
		return result, fmt.Errorf("script execution failed: %w", runErr)
	}
	return result, nil
}

func writeScriptFile(script []byte) (string, error) {
	f, err := os.CreateTemp("", "*-migration-file")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary script file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(script); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temporary script file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close temporary script file: %w", err)
	}
	return name, nil
}

func (b *BashRunner) setupCommand(cmd *exec.Cmd, pipelineFile string, options *Options) {
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	} else {
		cmd.Dir = filepath.Dir(pipelineFile)
	}

	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", EnvPipelineFile, pipelineFile))
	for k, v := range options.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
}

func setupOutputCapture(cmd *exec.Cmd, options *Options) (*bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	var stdoutBuf, stderrBuf, combinedBuf bytes.Buffer

	stdoutWriters := []io.Writer{&stdoutBuf, &combinedBuf}
	stderrWriters := []io.Writer{&stderrBuf, &combinedBuf}
	if options.CombinedWriter != nil {
		stdoutWriters = append(stdoutWriters, options.CombinedWriter)
		stderrWriters = append(stderrWriters, options.CombinedWriter)
	}

	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	return &stdoutBuf, &stderrBuf, &combinedBuf
}

func createResult(stdoutBuf, stderrBuf, combinedBuf *bytes.Buffer, err error) *Result {
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Combined: combinedBuf.String(),
		Err:      err,
	}

	var exitErr *exec.ExitError
	switch {
	case err != nil && errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case err == nil:
		result.ExitCode = 0
	default:
		result.ExitCode = -1
	}

	return result
}
