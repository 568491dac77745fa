package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codexec/codexec/internal/apperrors"
)

const docstringTimeout = 10 * time.Second

// WriteFile overwrites the file at path inside the user's container,
// creating parent directories as needed. Content is piped through the exec
// attachment, so bytes arrive exactly as given. Returns the byte count.
func (m *Manager) WriteFile(ctx context.Context, userID, path, content string) (int, error) {
	containerID, err := m.Acquire(ctx, userID)
	if err != nil {
		return 0, err
	}

	quoted := shellQuote(path)
	command := fmt.Sprintf("mkdir -p -- \"$(dirname -- %s)\" && cat > %s", quoted, quoted)

	res, err := m.execInContainer(ctx, containerID, command, 30*time.Second, []byte(content))
	if err != nil {
		return 0, err
	}
	if res.TimedOut {
		return 0, apperrors.Newf(apperrors.KindExecTimeout, "timed out writing %s", path)
	}
	if res.ExitCode != 0 {
		return 0, apperrors.Newf(apperrors.KindInternal, "failed to write %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return len(content), nil
}

// ReadFile returns lineCount lines of the file starting at the 0-indexed
// offset line. A negative lineCount reads to end of file. The container's
// byte stream is passed through untranslated.
func (m *Manager) ReadFile(ctx context.Context, userID, path string, offset, lineCount int) (string, error) {
	if offset < 0 {
		offset = 0
	}

	quoted := shellQuote(path)
	var command string
	if lineCount >= 0 {
		command = fmt.Sprintf("tail -n +%d -- %s | head -n %d", offset+1, quoted, lineCount)
	} else {
		command = fmt.Sprintf("tail -n +%d -- %s", offset+1, quoted)
	}

	res, err := m.Execute(ctx, userID, command, 30*time.Second)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", apperrors.Newf(apperrors.KindExecTimeout, "timed out reading %s", path)
	}
	if res.ExitCode != 0 {
		return "", apperrors.Newf(apperrors.KindFileNotFound, "failed to read %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// ReadDocstring extracts the documentation string of a top-level function in
// a Python file, by loading the module inside the container where its
// dependencies live. Returns "" when the function has no docstring.
func (m *Manager) ReadDocstring(ctx context.Context, userID, path, functionName string) (string, error) {
	snippet := fmt.Sprintf(
		"import importlib.util; "+
			"spec = importlib.util.spec_from_file_location('temp_module', '%s'); "+
			"module = importlib.util.module_from_spec(spec); "+
			"spec.loader.exec_module(module); "+
			"print(getattr(module, '%s').__doc__ or '')",
		path, functionName)
	command := fmt.Sprintf("python -c \"%s\"", snippet)

	res, err := m.Execute(ctx, userID, command, docstringTimeout)
	if err != nil {
		return "", err
	}
	if res.TimedOut || res.ExitCode != 0 {
		return "", apperrors.Newf(apperrors.KindDocstringExtraction,
			"failed to load %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}
