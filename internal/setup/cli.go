package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/surgery-scheduler-server/internal/config"
	"github.com/surgery-scheduler-server/internal/history"
	"github.com/surgery-scheduler-server/internal/service"
)

// CLI provides command-line interface for setup and data operations.
type CLI struct {
	config *config.LiteConfig
	out    io.Writer
}

// NewCLI creates a new setup CLI writing to stdout.
func NewCLI(cfg *config.LiteConfig) *CLI {
	return NewCLIWithOutput(cfg, os.Stdout)
}

// NewCLIWithOutput creates a CLI writing to out.
func NewCLIWithOutput(cfg *config.LiteConfig, out io.Writer) *CLI {
	return &CLI{config: cfg, out: out}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "generate":
		return c.generate(args[1:])
	case "template":
		return c.template(args[1:])
	case "export":
		return c.export(ctx, args[1:])
	case "import":
		return c.importRuns(ctx, args[1:])
	case "mcp-client":
		return c.setupClient(args[1:])
	case "status":
		return c.showStatus(ctx)
	case "validate":
		return c.validate(ctx)
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

func (c *CLI) showHelp() error {
	help := `
Surgery Scheduler Setup

Usage:
  mcp-server-lite setup <command> [options]

Commands:
  generate    Write a synthetic surgery batch as an import spreadsheet
  template    Write the empty import template
  export      Export schedule history as JSON
  import      Import schedule history from JSON
  mcp-client  Register the MCP server with the desktop MCP client
  status      Show current setup status
  validate    Validate the data directory and history database

Examples:
  # Write 40 surgeries with a fixed seed
  mcp-server-lite setup generate --count 40 --seed 7 --out test_40_surgeries.xlsx

  # Print the template to stdout (CSV; files ending in .csv are CSV too)
  mcp-server-lite setup template --out -

  # Back up and restore schedule history
  mcp-server-lite setup export --out runs.json
  mcp-server-lite setup import --in runs.json

  # Register with the MCP client using this binary
  mcp-server-lite setup mcp-client --data-dir ~/.surgery-scheduler
`
	fmt.Fprintln(c.out, help)
	return nil
}

// flagValue returns the argument following args[i] and advances i.
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("missing value for %s", args[*i])
	}
	*i++
	return args[*i], nil
}

// openOutput returns stdout for "-" and creates path otherwise.
func (c *CLI) openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return c.out, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func (c *CLI) generate(args []string) error {
	count := c.config.BatchCount
	seed := c.config.BatchSeed
	out := ""

	for i := 0; i < len(args); i++ {
		v, err := flagValue(args, &i)
		if err != nil {
			return err
		}
		switch args[i-1] {
		case "--count", "-n":
			if count, err = strconv.Atoi(v); err != nil {
				return fmt.Errorf("invalid count %q", v)
			}
		case "--seed", "-s":
			if seed, err = strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("invalid seed %q", v)
			}
		case "--out", "-o":
			out = v
		default:
			return fmt.Errorf("unknown option: %s", args[i-1])
		}
	}
	if out == "" {
		out = filepath.Join(c.config.ExportDir(), fmt.Sprintf("test_%d_surgeries.xlsx", count))
	}

	w, closeFn, err := c.openOutput(out)
	if err != nil {
		return err
	}
	if err := WriteSampleBatch(w, count, seed, service.FormatForPath(out)); err != nil {
		closeFn()
		return fmt.Errorf("failed to write batch: %w", err)
	}
	if err := closeFn(); err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(c.out, "✓ Wrote %d surgeries to %s\n", count, out)
	}
	return nil
}

func (c *CLI) template(args []string) error {
	out := filepath.Join(c.config.ExportDir(), "surgery_import_template.xlsx")
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--out", "-o":
			v, err := flagValue(args, &i)
			if err != nil {
				return err
			}
			out = v
		default:
			return fmt.Errorf("unknown option: %s", args[i])
		}
	}

	w, closeFn, err := c.openOutput(out)
	if err != nil {
		return err
	}
	if err := WriteTemplate(w, service.FormatForPath(out)); err != nil {
		closeFn()
		return fmt.Errorf("failed to write template: %w", err)
	}
	if err := closeFn(); err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(c.out, "✓ Wrote template to %s\n", out)
	}
	return nil
}

func (c *CLI) export(ctx context.Context, args []string) error {
	out := filepath.Join(c.config.ExportDir(), "schedule_runs.json")
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--out", "-o":
			v, err := flagValue(args, &i)
			if err != nil {
				return err
			}
			out = v
		default:
			return fmt.Errorf("unknown option: %s", args[i])
		}
	}

	store, err := history.NewSQLiteStore(c.config.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("failed to open schedule history: %w", err)
	}
	defer store.Close()

	w, closeFn, err := c.openOutput(out)
	if err != nil {
		return err
	}
	if err := store.ExportJSON(ctx, w); err != nil {
		closeFn()
		return fmt.Errorf("failed to export history: %w", err)
	}
	if err := closeFn(); err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(c.out, "✓ Exported schedule history to %s\n", out)
	}
	return nil
}

func (c *CLI) importRuns(ctx context.Context, args []string) error {
	in := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--in", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return err
			}
			in = v
		default:
			return fmt.Errorf("unknown option: %s", args[i])
		}
	}
	if in == "" {
		return fmt.Errorf("--in is required")
	}

	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", in, err)
	}
	defer f.Close()

	if err := c.config.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := history.NewSQLiteStore(c.config.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("failed to open schedule history: %w", err)
	}
	defer store.Close()

	imported, skipped, err := store.ImportJSON(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to import history: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Imported %d runs (%d skipped)\n", imported, skipped)
	return nil
}

func (c *CLI) setupClient(args []string) error {
	opts := Options{DataDir: c.config.DataDir}

	for i := 0; i < len(args); i++ {
		v, err := flagValue(args, &i)
		if err != nil {
			return err
		}
		switch args[i-1] {
		case "--binary", "-b":
			opts.BinaryPath = v
		case "--data-dir", "-d":
			opts.DataDir = v
		case "--config", "-c":
			opts.ConfigPath = v
		default:
			return fmt.Errorf("unknown option: %s", args[i-1])
		}
	}

	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	path, err := ConfigureClient(opts)
	if err != nil {
		return fmt.Errorf("failed to configure MCP client: %w", err)
	}

	fmt.Fprintln(c.out, "MCP Client Configuration")
	fmt.Fprintln(c.out, "========================")
	fmt.Fprintf(c.out, "Config file: %s\n", path)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	fmt.Fprintf(c.out, "Data directory: %s\n", opts.DataDir)
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "✓ Registered. Restart the MCP client to load the new configuration.")
	return nil
}

func (c *CLI) showStatus(ctx context.Context) error {
	status := GetStatus(ctx, c.config, "")

	fmt.Fprintln(c.out, "Surgery Scheduler Status")
	fmt.Fprintln(c.out, "========================")
	fmt.Fprintln(c.out)

	fmt.Fprintf(c.out, "Data directory: %s\n", status.DataDir)
	fmt.Fprintf(c.out, "  Exists: %s\n", mark(status.DataDirExists))
	fmt.Fprintf(c.out, "History database: %s\n", status.HistoryPath)
	if status.HistoryExists {
		fmt.Fprintf(c.out, "  Stored runs: %d\n", status.Runs)
	} else {
		fmt.Fprintln(c.out, "  Status: - Will be created on first run")
	}
	fmt.Fprintln(c.out)

	if status.ClientConfigPath != "" {
		fmt.Fprintf(c.out, "MCP client config: %s\n", status.ClientConfigPath)
		fmt.Fprintf(c.out, "  Registered: %s\n", mark(status.ClientConfigured))
		if status.ServerPath != "" {
			fmt.Fprintf(c.out, "  Server binary: %s\n", status.ServerPath)
		}
		fmt.Fprintln(c.out)
	}

	if len(status.Issues) > 0 {
		fmt.Fprintln(c.out, "Issues:")
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  ⚠ %s\n", issue)
		}
		fmt.Fprintln(c.out)
	}

	return nil
}

func (c *CLI) validate(ctx context.Context) error {
	fmt.Fprintln(c.out, "Validating configuration...")
	fmt.Fprintln(c.out)

	valid, issues := Validate(ctx, c.config)
	if valid {
		fmt.Fprintln(c.out, "✓ Configuration is valid!")
		return nil
	}

	fmt.Fprintln(c.out, "✗ Configuration has issues:")
	for _, issue := range issues {
		fmt.Fprintf(c.out, "  - %s\n", issue)
	}
	return fmt.Errorf("validation failed with %d issue(s)", len(issues))
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
