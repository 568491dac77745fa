package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// execScript decides what a fake exec produces for a given command.
type execScript func(cmd string) execOutcome

type execOutcome struct {
	stdout   string
	stderr   string
	exitCode int
	stall    bool
}

type fakeExec struct {
	cmd         string
	attachStdin bool
	outcome     execOutcome
	stdin       bytes.Buffer
}

// fakeDocker implements DockerAPI in memory. Exec attachments speak the
// real stdcopy framing over a net.Pipe so the demux path is exercised.
type fakeDocker struct {
	mu sync.Mutex

	createCalls int
	createDelay time.Duration
	createErr   error

	running map[string]bool
	removed []string
	listed  []types.Container

	execSeq int
	execs   map[string]*fakeExec
	script  execScript

	release chan struct{} // unblocks stalled execs
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		running: make(map[string]bool),
		execs:   make(map[string]*fakeExec),
		release: make(chan struct{}),
		script: func(string) execOutcome {
			return execOutcome{exitCode: 0}
		},
	}
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	id := "ctr-" + containerName
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = true
	return nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.running[containerID]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(fmt.Errorf("no such container: %s", containerID))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    containerID,
			State: &types.ContainerState{Running: running},
		},
	}, nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = false
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed, nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execSeq++
	id := fmt.Sprintf("exec-%d", f.execSeq)
	cmd := options.Cmd[len(options.Cmd)-1]
	f.execs[id] = &fakeExec{
		cmd:         cmd,
		attachStdin: options.AttachStdin,
		outcome:     f.script(cmd),
	}
	return types.IDResponse{ID: id}, nil
}

// halfCloseConn gives the client side of a net.Pipe a CloseWrite so the
// HijackedResponse half-close path behaves like a real hijacked stream.
type halfCloseConn struct {
	net.Conn
	closeWrite func() error
}

func (c *halfCloseConn) CloseWrite() error { return c.closeWrite() }

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	e := f.execs[execID]
	f.mu.Unlock()

	clientConn, serverConn := net.Pipe()

	go func() {
		if e.attachStdin {
			buf := make([]byte, 4096)
			for {
				n, err := serverConn.Read(buf)
				f.mu.Lock()
				e.stdin.Write(buf[:n])
				f.mu.Unlock()
				if err != nil {
					break
				}
			}
		}
		if e.outcome.stall {
			<-f.release
			serverConn.Close()
			return
		}
		if e.outcome.stdout != "" {
			w := stdcopy.NewStdWriter(serverConn, stdcopy.Stdout)
			w.Write([]byte(e.outcome.stdout))
		}
		if e.outcome.stderr != "" {
			w := stdcopy.NewStdWriter(serverConn, stdcopy.Stderr)
			w.Write([]byte(e.outcome.stderr))
		}
		serverConn.Close()
	}()

	conn := &halfCloseConn{
		Conn: clientConn,
		closeWrite: func() error {
			// Unblock the stdin read loop.
			return serverConn.SetReadDeadline(time.Now())
		},
	}
	return types.NewHijackedResponse(conn, ""), nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return container.ExecInspect{ExitCode: f.execs[execID].outcome.exitCode}, nil
}

func (f *fakeDocker) Close() error { return nil }

func (f *fakeDocker) stdinOf(execID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[execID].stdin.String()
}

func (f *fakeDocker) lastStdin() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[fmt.Sprintf("exec-%d", f.execSeq)].stdin.String()
}
