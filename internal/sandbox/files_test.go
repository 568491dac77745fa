package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexec/codexec/internal/apperrors"
)

func TestWriteFile_PipesContentVerbatim(t *testing.T) {
	fake := newFakeDocker()
	mgr := newTestManager(fake)

	content := "L1\nL2\nL3\n"
	n, err := mgr.WriteFile(context.Background(), "u1", "/workspace/a.txt", content)
	require.NoError(t, err)

	assert.Equal(t, len(content), n)
	assert.Equal(t, content, fake.lastStdin())
}

func TestWriteFile_BinaryContentUntouched(t *testing.T) {
	fake := newFakeDocker()
	mgr := newTestManager(fake)

	content := "a\r\nb\x00c'd\"e"
	n, err := mgr.WriteFile(context.Background(), "u1", "/artifacts/blob.bin", content)
	require.NoError(t, err)

	assert.Equal(t, len(content), n)
	assert.Equal(t, content, fake.lastStdin())
}

func TestWriteFile_CommandCreatesParentDirs(t *testing.T) {
	fake := newFakeDocker()
	mgr := newTestManager(fake)

	_, err := mgr.WriteFile(context.Background(), "u1", "/workspace/sub/dir/f.txt", "x")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, e := range fake.execs {
		assert.Contains(t, e.cmd, "mkdir -p")
		assert.Contains(t, e.cmd, "cat > '/workspace/sub/dir/f.txt'")
	}
}

func TestWriteFile_ExecFailure(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		return execOutcome{stderr: "read-only file system\n", exitCode: 1}
	}
	mgr := newTestManager(fake)

	_, err := mgr.WriteFile(context.Background(), "u1", "/tools/readonly.txt", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestReadFile_BuildsPaginationCommand(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		switch {
		case strings.Contains(cmd, "head -n 1"):
			return execOutcome{stdout: "L2\n"}
		default:
			return execOutcome{stdout: "L1\nL2\nL3\n"}
		}
	}
	mgr := newTestManager(fake)

	all, err := mgr.ReadFile(context.Background(), "u1", "/workspace/a.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "L1\nL2\nL3\n", all)

	one, err := mgr.ReadFile(context.Background(), "u1", "/workspace/a.txt", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "L2\n", one)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	var sawPaged bool
	for _, e := range fake.execs {
		if strings.Contains(e.cmd, "tail -n +2") && strings.Contains(e.cmd, "head -n 1") {
			sawPaged = true
		}
	}
	assert.True(t, sawPaged, "expected a tail|head pipeline for the paged read")
}

func TestReadFile_NotFound(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		return execOutcome{stderr: "tail: cannot open '/workspace/nope.txt' for reading\n", exitCode: 1}
	}
	mgr := newTestManager(fake)

	_, err := mgr.ReadFile(context.Background(), "u1", "/workspace/nope.txt", 0, -1)
	assert.Equal(t, apperrors.KindFileNotFound, apperrors.KindOf(err))
}

func TestReadDocstring(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		return execOutcome{stdout: "Generate a greeting.\n"}
	}
	mgr := newTestManager(fake)

	doc, err := mgr.ReadDocstring(context.Background(), "u1", "/workspace/m.py", "greet")
	require.NoError(t, err)
	assert.Equal(t, "Generate a greeting.", doc)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, e := range fake.execs {
		assert.Contains(t, e.cmd, "importlib.util")
		assert.Contains(t, e.cmd, "greet")
	}
}

func TestReadDocstring_LoadFailure(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		return execOutcome{stderr: "ModuleNotFoundError: No module named 'numpy'\n", exitCode: 1}
	}
	mgr := newTestManager(fake)

	_, err := mgr.ReadDocstring(context.Background(), "u1", "/workspace/m.py", "greet")
	assert.Equal(t, apperrors.KindDocstringExtraction, apperrors.KindOf(err))
}

func TestReadDocstring_EmptyDocstring(t *testing.T) {
	fake := newFakeDocker()
	fake.script = func(cmd string) execOutcome {
		return execOutcome{stdout: "\n"}
	}
	mgr := newTestManager(fake)

	doc, err := mgr.ReadDocstring(context.Background(), "u1", "/workspace/m.py", "undocumented")
	require.NoError(t, err)
	assert.Equal(t, "", doc)
}
