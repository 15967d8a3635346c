// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/agentmesh/pkg/types"
)

// Defaults applied before any file or environment override.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 8700
	DefaultToolTimeout = 30_000 // ms
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/agentmesh/)
// 2. Project config (<directory>/agentmesh.json[c])
// 3. AGENTMESH_CONFIG file
// 4. AGENTMESH_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		ToolTimeout: DefaultToolTimeout,
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "agentmesh.json"))
	loadOnce(filepath.Join(globalPath, "agentmesh.jsonc"))

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "agentmesh.json"))
		loadOnce(filepath.Join(directory, "agentmesh.jsonc"))
	}

	// 3. AGENTMESH_CONFIG file override
	if configPath := os.Getenv("AGENTMESH_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. AGENTMESH_CONFIG_CONTENT inline JSON
	if content := os.Getenv("AGENTMESH_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file, stripping JSONC comments.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig overlays src onto dst; zero values in src leave dst
// untouched.
func mergeConfig(dst, src *types.Config) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogPretty {
		dst.LogPretty = true
	}
	if src.ToolTimeout != 0 {
		dst.ToolTimeout = src.ToolTimeout
	}
	if src.SessionQueueSize != 0 {
		dst.SessionQueueSize = src.SessionQueueSize
	}
	if src.Retention != nil {
		dst.Retention = src.Retention
	}
	if src.Audit != nil {
		dst.Audit = src.Audit
	}
	if src.Generator != nil {
		dst.Generator = src.Generator
	}
	if len(src.Tools) > 0 {
		if dst.Tools == nil {
			dst.Tools = make(map[string]bool)
		}
		for name, enabled := range src.Tools {
			dst.Tools[name] = enabled
		}
	}
	if len(src.MCP) > 0 {
		if dst.MCP == nil {
			dst.MCP = make(map[string]types.MCPConfig)
		}
		for name, cfg := range src.MCP {
			dst.MCP[name] = cfg
		}
	}
}

// applyEnvOverrides applies AGENTMESH_* environment variables.
func applyEnvOverrides(config *types.Config) {
	if host := os.Getenv("AGENTMESH_HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("AGENTMESH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if level := os.Getenv("AGENTMESH_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if timeout := os.Getenv("AGENTMESH_TOOL_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.ToolTimeout = t
		}
	}
	if dir := os.Getenv("AGENTMESH_AUDIT_DIR"); dir != "" {
		config.Audit = &types.AuditConfig{Dir: dir}
	}
}
