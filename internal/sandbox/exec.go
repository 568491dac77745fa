package sandbox

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
)

// TimeoutExitCode is the sentinel exit code reported when a command exceeds
// its timeout. Partial output captured up to that point is preserved.
const TimeoutExitCode = -1

// ExecResult is the structured outcome of a single in-container command.
// A timeout is a result, not a transport error.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// syncBuffer lets the demux goroutine write while a timed-out caller reads
// the partial output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Execute runs a bash command inside the user's container and captures
// stdout and stderr separately. The command string is passed to bash -c
// verbatim; quoting is the caller's responsibility. On timeout the partial
// output is returned with ExitCode set to TimeoutExitCode.
func (m *Manager) Execute(ctx context.Context, userID, command string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	containerID, err := m.Acquire(ctx, userID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindImageUnavailable ||
			apperrors.KindOf(err) == apperrors.KindMissingUserContext {
			return ExecResult{}, err
		}
		return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "cannot acquire container", err)
	}

	return m.execInContainer(ctx, containerID, command, timeout, nil)
}

// execInContainer creates an exec instance, optionally feeds stdin, and
// collects demuxed output until the process exits or the timeout fires.
func (m *Manager) execInContainer(ctx context.Context, containerID, command string, timeout time.Duration, stdin []byte) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"bash", "-c", command},
		User:         execUser,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
	}

	created, err := m.api.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to create exec", err)
	}

	attach, err := m.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to attach exec", err)
	}
	defer attach.Close()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- copyErr
	}()

	if stdin != nil {
		if _, err := attach.Conn.Write(stdin); err != nil {
			return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to write exec stdin", err)
		}
		if err := attach.CloseWrite(); err != nil {
			return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to close exec stdin", err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to read exec output", err)
		}
	case <-timer.C:
		// The in-container process is abandoned; closing the attachment
		// stops our side, and the container keeps running.
		m.log.Warn("command timed out",
			zap.String("container", containerID),
			zap.Duration("timeout", timeout),
			zap.String("command", truncate(command, 100)))
		return ExecResult{
			ExitCode: TimeoutExitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
		}, nil
	case <-ctx.Done():
		return ExecResult{}, apperrors.New(apperrors.KindCancelled, "execution cancelled", ctx.Err())
	}

	inspect, err := m.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, apperrors.New(apperrors.KindContainerUnavailable, "failed to inspect exec", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes, so
// it can be spliced into a bash command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
