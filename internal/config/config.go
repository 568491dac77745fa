// Package config loads the settings for both the tool server and the agent
// API from an optional YAML file and CODEXEC_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultArtifactSizeLimit caps a single artifact download at 50 MiB.
	DefaultArtifactSizeLimit = 50 * 1024 * 1024

	// DefaultExecTimeout bounds a single in-container command.
	DefaultExecTimeout = 30 * time.Second
)

// Config holds the settings for both binaries. Either binary reads only the
// fields it needs.
type Config struct {
	// Tool server
	ToolServerHost string
	ToolServerPort int
	ExecutorImage  string
	ToolsPath      string
	SkillsPath     string

	ArtifactSizeLimit int64

	// Agent API
	AgentAPIHost string
	AgentAPIPort int
	MCPServerURL string

	DefaultModel   string
	AgentName      string
	ModelBaseURL   string
	ModelAPIKey    string
	FallbackPrompt string

	SessionTimeout time.Duration
	PromptCacheTTL time.Duration
}

// Load reads configuration from the given file (optional, may be empty) and
// the environment. Environment variables use the CODEXEC_ prefix, e.g.
// CODEXEC_EXECUTOR_IMAGE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tool_server_host", "0.0.0.0")
	v.SetDefault("tool_server_port", 8989)
	v.SetDefault("executor_image", "codexec-executor:latest")
	v.SetDefault("tools_path", "./tools")
	v.SetDefault("skills_path", "./skills")
	v.SetDefault("artifact_size_limit", DefaultArtifactSizeLimit)

	v.SetDefault("agent_api_host", "0.0.0.0")
	v.SetDefault("agent_api_port", 8000)
	v.SetDefault("mcp_server_url", "http://localhost:8989/mcp")

	v.SetDefault("default_model", "gpt-4o")
	v.SetDefault("agent_name", "code_executor_agent")
	v.SetDefault("model_base_url", "")
	v.SetDefault("model_api_key", "")
	v.SetDefault("fallback_prompt", defaultFallbackPrompt)

	v.SetDefault("session_timeout", 3600)
	v.SetDefault("prompt_cache_ttl", 3600)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		ToolServerHost:    v.GetString("tool_server_host"),
		ToolServerPort:    v.GetInt("tool_server_port"),
		ExecutorImage:     v.GetString("executor_image"),
		ToolsPath:         v.GetString("tools_path"),
		SkillsPath:        v.GetString("skills_path"),
		ArtifactSizeLimit: v.GetInt64("artifact_size_limit"),
		AgentAPIHost:      v.GetString("agent_api_host"),
		AgentAPIPort:      v.GetInt("agent_api_port"),
		MCPServerURL:      v.GetString("mcp_server_url"),
		DefaultModel:      v.GetString("default_model"),
		AgentName:         v.GetString("agent_name"),
		ModelBaseURL:      v.GetString("model_base_url"),
		ModelAPIKey:       v.GetString("model_api_key"),
		FallbackPrompt:    v.GetString("fallback_prompt"),
		SessionTimeout:    time.Duration(v.GetInt("session_timeout")) * time.Second,
		PromptCacheTTL:    time.Duration(v.GetInt("prompt_cache_ttl")) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no sensible zero value.
func (c *Config) Validate() error {
	if c.ExecutorImage == "" {
		return fmt.Errorf("executor_image must not be empty")
	}
	if c.MCPServerURL == "" {
		return fmt.Errorf("mcp_server_url must not be empty")
	}
	if c.ArtifactSizeLimit <= 0 {
		return fmt.Errorf("artifact_size_limit must be positive, got %d", c.ArtifactSizeLimit)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	return nil
}

// MCPHealthURL derives the tool server health endpoint from the MCP URL.
func (c *Config) MCPHealthURL() string {
	return strings.TrimSuffix(c.MCPServerURL, "/mcp") + "/health"
}

// MCPBaseURL strips the /mcp suffix, leaving the tool server HTTP root.
func (c *Config) MCPBaseURL() string {
	return strings.TrimSuffix(c.MCPServerURL, "/mcp")
}

const defaultFallbackPrompt = `You are a code execution assistant with access to secure containers.

You can:
- Execute bash commands and Python scripts
- Write files to the workspace
- Read file contents with pagination
- Inspect function documentation

Guidelines:
- Always validate user code before execution
- Use appropriate timeouts for long-running tasks
- Handle errors gracefully and provide clear feedback
- Keep the workspace organized

Available tools:
- execute_bash: Run commands in isolated container
- write_file: Create/overwrite files in workspace
- read_file: Read file contents (supports pagination)
- read_docstring: Extract function documentation

Be helpful, secure, and efficient!`
