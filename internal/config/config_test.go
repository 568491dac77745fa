package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8989, cfg.ToolServerPort)
	assert.Equal(t, "codexec-executor:latest", cfg.ExecutorImage)
	assert.Equal(t, "http://localhost:8989/mcp", cfg.MCPServerURL)
	assert.Equal(t, int64(50*1024*1024), cfg.ArtifactSizeLimit)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, time.Hour, cfg.PromptCacheTTL)
	assert.NotEmpty(t, cfg.FallbackPrompt)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CODEXEC_EXECUTOR_IMAGE", "custom-image:v2")
	t.Setenv("CODEXEC_SESSION_TIMEOUT", "60")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "custom-image:v2", cfg.ExecutorImage)
	assert.Equal(t, time.Minute, cfg.SessionTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codexec.yaml")
	content := "executor_image: from-file:latest\ntool_server_port: 9999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file:latest", cfg.ExecutorImage)
	assert.Equal(t, 9999, cfg.ToolServerPort)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/codexec.yaml")
	assert.Error(t, err)
}

func TestMCPURLHelpers(t *testing.T) {
	cfg := &Config{MCPServerURL: "http://tool-server:8989/mcp"}
	assert.Equal(t, "http://tool-server:8989/health", cfg.MCPHealthURL())
	assert.Equal(t, "http://tool-server:8989", cfg.MCPBaseURL())
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		ExecutorImage:     "img",
		MCPServerURL:      "http://localhost:8989/mcp",
		ArtifactSizeLimit: 1,
		SessionTimeout:    time.Second,
	}
	assert.NoError(t, cfg.Validate())

	cfg.ArtifactSizeLimit = 0
	assert.Error(t, cfg.Validate())
}
