package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codexec/codexec/internal/apperrors"
)

// ValidateArtifactName rejects anything that is not a bare filename: no
// path separators, no leading dot.
func ValidateArtifactName(name string) error {
	if name == "" {
		return apperrors.New(apperrors.KindPathViolation, "artifact name is empty", nil)
	}
	if strings.ContainsAny(name, `/\`) {
		return apperrors.Newf(apperrors.KindPathViolation,
			"invalid artifact name %q: must be a filename, not a path", name)
	}
	if strings.HasPrefix(name, ".") {
		return apperrors.Newf(apperrors.KindPathViolation,
			"invalid artifact name %q: cannot start with '.'", name)
	}
	return nil
}

// ListArtifacts returns the sorted names of regular files directly under
// /artifacts in the user's container. The directory listing is the ground
// truth; there is no metadata store.
func (m *Manager) ListArtifacts(ctx context.Context, userID string) ([]string, error) {
	res, err := m.Execute(ctx, userID, `find /artifacts/ -maxdepth 1 -type f -printf '%f\n'`, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apperrors.Newf(apperrors.KindInternal, "failed to list artifacts: %s", strings.TrimSpace(res.Stderr))
	}

	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetArtifact validates the name, checks existence and size, then returns
// the raw bytes of /artifacts/<name>. The size check happens before any
// content is transferred.
func (m *Manager) GetArtifact(ctx context.Context, userID, name string) ([]byte, error) {
	if err := ValidateArtifactName(name); err != nil {
		return nil, err
	}
	path := "/artifacts/" + name
	quoted := shellQuote(path)

	res, err := m.Execute(ctx, userID, fmt.Sprintf("test -f %s", quoted), 30*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apperrors.Newf(apperrors.KindFileNotFound, "artifact not found: %s", name)
	}

	res, err = m.Execute(ctx, userID, fmt.Sprintf("wc -c < %s", quoted), 30*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apperrors.Newf(apperrors.KindInternal, "failed to check artifact size: %s", strings.TrimSpace(res.Stderr))
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "unparseable artifact size", err)
	}
	if size > m.opts.ArtifactSizeLimit {
		return nil, apperrors.Newf(apperrors.KindArtifactTooLarge,
			"artifact %s is %d bytes, exceeds limit of %d bytes", name, size, m.opts.ArtifactSizeLimit)
	}

	res, err = m.Execute(ctx, userID, fmt.Sprintf("base64 -w 0 %s", quoted), 60*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apperrors.Newf(apperrors.KindInternal, "failed to encode artifact: %s", strings.TrimSpace(res.Stderr))
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.Stdout))
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "artifact payload is not valid base64", err)
	}
	return data, nil
}
