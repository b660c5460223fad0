// Package setup provides setup and maintenance utilities for the standalone
// surgery scheduler.
package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/surgery-scheduler-server/internal/config"
	"github.com/surgery-scheduler-server/internal/history"
	"github.com/surgery-scheduler-server/internal/service"
)

// ServerName is the key the scheduler registers under in an MCP client config.
const ServerName = "surgery-scheduler"

// ClientConfig represents an MCP client configuration file.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for registering the server with an MCP client.
type Options struct {
	BinaryPath string // Path to the server binary
	DataDir    string // Data directory passed as SURGERY_DATA_DIR
	ConfigPath string // Client config file; the desktop client default when empty
}

// DefaultClientConfigPath returns the path to the desktop MCP client's config file.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig loads an MCP client configuration. A missing file yields
// an empty configuration.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}

	return &cfg, nil
}

// SaveClientConfig writes cfg to configPath, creating parent directories.
func SaveClientConfig(configPath string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigureClient adds or replaces the scheduler entry in the client config
// and returns the file it wrote. Other servers in the file are preserved.
func ConfigureClient(opts Options) (string, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = DefaultClientConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadClientConfig(configPath)
	if err != nil {
		return "", err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		if binaryPath, err = findBinary("mcp-server-lite"); err != nil {
			return "", fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		entry.Env["SURGERY_DATA_DIR"] = opts.DataDir
	}
	cfg.MCPServers[ServerName] = entry

	if err := SaveClientConfig(configPath, cfg); err != nil {
		return "", err
	}
	return configPath, nil
}

// findBinary looks for the named binary on PATH and in common build locations.
func findBinary(binaryName string) (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if absPath, err := filepath.Abs(loc); err == nil {
				return absPath, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

// Status represents the state of the standalone installation.
type Status struct {
	DataDir          string
	DataDirExists    bool
	HistoryPath      string
	HistoryExists    bool
	Runs             int64
	ClientConfigPath string
	ClientConfigured bool
	ServerPath       string
	Issues           []string
}

// GetStatus inspects the data directory, the history database and the MCP
// client registration. clientConfigPath may be empty for the default.
func GetStatus(ctx context.Context, lite *config.LiteConfig, clientConfigPath string) *Status {
	status := &Status{
		DataDir:     lite.DataDir,
		HistoryPath: lite.HistoryDBPath(),
		Issues:      []string{},
	}

	if _, err := os.Stat(status.DataDir); err == nil {
		status.DataDirExists = true
	} else {
		status.Issues = append(status.Issues, fmt.Sprintf("Data directory does not exist: %s", status.DataDir))
	}

	if _, err := os.Stat(status.HistoryPath); err == nil {
		status.HistoryExists = true
		runs, err := countRuns(ctx, status.HistoryPath)
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not read schedule history: %v", err))
		}
		status.Runs = runs
	}

	if clientConfigPath == "" {
		var err error
		if clientConfigPath, err = DefaultClientConfigPath(); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not determine MCP client config path: %v", err))
			return status
		}
	}
	status.ClientConfigPath = clientConfigPath

	cfg, err := LoadClientConfig(clientConfigPath)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not load MCP client config: %v", err))
		return status
	}
	if entry, ok := cfg.MCPServers[ServerName]; ok {
		status.ClientConfigured = true
		status.ServerPath = entry.Command
		if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
		}
	}

	return status
}

func countRuns(ctx context.Context, path string) (int64, error) {
	store, err := history.NewSQLiteStore(path)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Count(ctx)
}

// Validate checks that the data directory is writable and the history
// database opens. It creates both when missing.
func Validate(ctx context.Context, lite *config.LiteConfig) (bool, []string) {
	var issues []string

	if err := lite.EnsureDataDir(); err != nil {
		return false, append(issues, fmt.Sprintf("Cannot create data directory: %v", err))
	}

	probe, err := os.CreateTemp(lite.DataDir, ".probe-*")
	if err != nil {
		issues = append(issues, fmt.Sprintf("Data directory is not writable: %v", err))
	} else {
		probe.Close()
		os.Remove(probe.Name())
	}

	if _, err := countRuns(ctx, lite.HistoryDBPath()); err != nil {
		issues = append(issues, fmt.Sprintf("Cannot open schedule history: %v", err))
	}

	return len(issues) == 0, issues
}

// WriteSampleBatch writes count generated requests as an import spreadsheet.
// A zero seed draws from the clock.
func WriteSampleBatch(w io.Writer, count int, seed int64, format service.SheetFormat) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	gen := service.NewSeededRequestGenerator(seed)
	return service.NewBatchImporter().WriteRequests(w, gen.Generate(count), format)
}

// WriteTemplate writes the empty import template.
func WriteTemplate(w io.Writer, format service.SheetFormat) error {
	return service.NewBatchImporter().WriteTemplate(w, format)
}
