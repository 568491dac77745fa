// Package sandbox manages per-user executor containers and runs commands
// and file operations inside them. One container per user id; containers
// persist between calls and are removed at shutdown.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
)

const (
	// containerNamePrefix is the naming convention for executor containers.
	// Orphans matching it are removed on startup.
	containerNamePrefix = "codexec-"

	// execUser is the non-root user the image provides for command execution.
	execUser = "coderunner"

	stopTimeoutSeconds = 10

	maxDaemonAttempts = 3
)

// Options configures a Manager.
type Options struct {
	Image             string
	ToolsPath         string
	SkillsPath        string
	ArtifactSizeLimit int64
}

type containerState int

const (
	stateAbsent containerState = iota
	stateStarting
	stateRunning
	stateStopped
	stateRemoving
)

type record struct {
	containerID string
	state       containerState
	createdAt   time.Time
	lastUsed    time.Time
}

// Manager owns the container records. All lifecycle transitions for a given
// user id happen under that user's keyed lock, so concurrent Acquire calls
// never create two containers for the same user.
type Manager struct {
	api  DockerAPI
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	records map[string]*record
	locks   map[string]*sync.Mutex
}

// NewManager creates a container manager on top of the given Docker API.
func NewManager(api DockerAPI, opts Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		api:     api,
		opts:    opts,
		log:     log,
		records: make(map[string]*record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Ready reports whether the manager has a usable daemon connection.
func (m *Manager) Ready() bool {
	return m.api != nil
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func (m *Manager) getRecord(userID string) (*record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	return r, ok
}

func (m *Manager) setRecord(userID string, r *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		delete(m.records, userID)
	} else {
		m.records[userID] = r
	}
}

// containerName derives the container name from a sanitized user id.
func containerName(userID string) string {
	return containerNamePrefix + sanitizeUserID(userID)
}

// sanitizeUserID keeps only characters Docker accepts in names and
// hostnames.
func sanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// Acquire returns the id of a running container for the user, creating or
// restarting one as needed. Last-use is updated on every call.
func (m *Manager) Acquire(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperrors.New(apperrors.KindMissingUserContext, "user id is required", nil)
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if r, ok := m.getRecord(userID); ok && r.state != stateAbsent {
		id, err := m.reuse(ctx, userID, r)
		if err == nil {
			return id, nil
		}
		// Container vanished underneath us; fall through and recreate.
		if !errdefs.IsNotFound(err) {
			return "", err
		}
		m.setRecord(userID, nil)
	}

	return m.create(ctx, userID)
}

// reuse revalidates an existing record, restarting the container if it has
// exited.
func (m *Manager) reuse(ctx context.Context, userID string, r *record) (string, error) {
	info, err := m.api.ContainerInspect(ctx, r.containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", err
		}
		return "", apperrors.New(apperrors.KindContainerUnavailable, "failed to inspect container", err)
	}

	if info.State != nil && info.State.Running {
		r.state = stateRunning
		r.lastUsed = time.Now()
		return r.containerID, nil
	}

	m.log.Info("restarting stopped container", zap.String("user_id", userID))
	r.state = stateStarting
	if err := m.startWithRetry(ctx, r.containerID); err != nil {
		r.state = stateStopped
		return "", err
	}
	r.state = stateRunning
	r.lastUsed = time.Now()
	return r.containerID, nil
}

// create builds and starts a fresh container for the user. The record is
// published only after a successful start; a start failure leaves the user
// with no record.
func (m *Manager) create(ctx context.Context, userID string) (string, error) {
	name := containerName(userID)

	cfg := &container.Config{
		Image:       m.opts.Image,
		Hostname:    sanitizeUserID(userID),
		Tty:         true,
		OpenStdin:   true,
		WorkingDir:  "/workspace",
		Labels:      map[string]string{"codexec.user": userID},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: m.opts.ToolsPath, Target: "/tools", ReadOnly: true},
			{Type: mount.TypeBind, Source: m.opts.SkillsPath, Target: "/skills", ReadOnly: true},
		},
	}

	created, err := backoff.Retry(ctx, func() (container.CreateResponse, error) {
		resp, err := m.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
		if err != nil {
			if errdefs.IsNotFound(err) {
				// Missing image is not a transient condition.
				return resp, backoff.Permanent(apperrors.New(apperrors.KindImageUnavailable,
					fmt.Sprintf("executor image %s not found", m.opts.Image), err))
			}
			if errdefs.IsConflict(err) {
				// A stale container with our name survived a previous run.
				_ = m.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
			}
			return resp, err
		}
		return resp, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxDaemonAttempts))
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindImageUnavailable {
			return "", err
		}
		return "", apperrors.New(apperrors.KindContainerUnavailable, "failed to create container", err)
	}

	if err := m.startWithRetry(ctx, created.ID); err != nil {
		_ = m.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", err
	}

	now := time.Now()
	m.setRecord(userID, &record{
		containerID: created.ID,
		state:       stateRunning,
		createdAt:   now,
		lastUsed:    now,
	})
	m.log.Info("created container",
		zap.String("user_id", userID),
		zap.String("container", name))
	return created.ID, nil
}

func (m *Manager) startWithRetry(ctx context.Context, containerID string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.api.ContainerStart(ctx, containerID, container.StartOptions{})
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxDaemonAttempts))
	if err != nil {
		return apperrors.New(apperrors.KindContainerUnavailable, "failed to start container", err)
	}
	return nil
}

// Remove stops and removes the user's container, best effort. The record
// becomes absent regardless of daemon errors.
func (m *Manager) Remove(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	r, ok := m.getRecord(userID)
	if !ok {
		return nil
	}
	r.state = stateRemoving
	defer m.setRecord(userID, nil)

	timeout := stopTimeoutSeconds
	if err := m.api.ContainerStop(ctx, r.containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		m.log.Warn("failed to stop container", zap.String("user_id", userID), zap.Error(err))
	}
	if err := m.api.ContainerRemove(ctx, r.containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return apperrors.New(apperrors.KindContainerUnavailable, "failed to remove container", err)
	}
	return nil
}

// Shutdown removes every known container. Idempotent; errors are collected
// rather than aborting the sweep.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	users := make([]string, 0, len(m.records))
	for u := range m.records {
		users = append(users, u)
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, u := range users {
		if err := m.Remove(ctx, u); err != nil {
			result = multierror.Append(result, fmt.Errorf("user %s: %w", u, err))
		}
	}
	return result.ErrorOrNil()
}

// RemoveOrphans removes containers left behind by a previous process, found
// by the naming convention. Records never survive a crash, so anything
// matching the prefix is fair game.
func (m *Manager) RemoveOrphans(ctx context.Context) error {
	list, err := m.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", containerNamePrefix)),
	})
	if err != nil {
		return apperrors.New(apperrors.KindContainerUnavailable, "failed to list containers", err)
	}

	var result *multierror.Error
	for _, c := range list {
		if err := m.api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			result = multierror.Append(result, err)
			continue
		}
		m.log.Info("removed orphaned container", zap.Strings("names", c.Names))
	}
	return result.ErrorOrNil()
}
