package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/othala/internal"
	pkgconfig "github.com/starford/othala/pkg/config"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config.yaml",
		Value:       "config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

// loadOptionalConfig reads the YAML config when present, without validating:
// run applies flag overrides first and validates the merged result. A missing
// file is only an error when --config was given explicitly.
func loadOptionalConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(cmd.String("config"), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found && cmd.IsSet("config") {
		return nil, fmt.Errorf("config file not found: %s", cmd.String("config"))
	}
	return cfg, nil
}

// loadRequiredConfig reads and validates the YAML config. watch and mcp have
// no override flags, so everything must come from the file.
func loadRequiredConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadOptionalConfig(cmd)
	if err != nil {
		return err
	}

	// Flags override the file.
	if srcs := cmd.StringSlice("source"); len(srcs) > 0 {
		cfg.Merge.Sources = srcs
	}
	if cmd.IsSet("dest") {
		cfg.Merge.Destination = cmd.String("dest")
	}
	if exts := cmd.StringSlice("ext"); len(exts) > 0 {
		cfg.Merge.Extensions = exts
	}
	if cmd.IsSet("ledger") {
		cfg.Ledger.Path = cmd.String("ledger")
	}
	if cmd.IsSet("conflict-log") {
		cfg.ConflictLog.Path = cmd.String("conflict-log")
	}
	if cmd.IsSet("workers") {
		cfg.Merge.Workers = int(cmd.Int("workers"))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return internal.Run(ctx,
		internal.WithConfig(cfg),
		internal.WithDryRun(cmd.Bool("dry-run")),
		internal.WithAssumeYes(cmd.Bool("yes")))
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadRequiredConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunWatch(ctx, internal.WithConfig(cfg))
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadRequiredConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:  "othala",
		Usage: "Merge photo and video collections into one deduplicated directory",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Merge the sources into the destination once",
				Action: runAction,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Source directory to scan (repeatable)",
					},
					&cli.StringFlag{
						Name:    "dest",
						Aliases: []string{"d"},
						Usage:   "Destination directory (must exist)",
					},
					&cli.StringSliceFlag{
						Name:  "ext",
						Usage: "Extension allow-list entry (repeatable, replaces the default list)",
					},
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Processed-file ledger path",
					},
					&cli.StringFlag{
						Name:  "conflict-log",
						Usage: "Conflict log path",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent hash workers (0 means one per CPU)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report decisions without copying anything",
					},
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Skip the confirmation prompt",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Keep merging as files arrive, with a status API and SSE stream",
				Action: watchAction,
				Flags:  []cli.Flag{configFlag()},
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only merge tools over MCP stdio",
				Action: mcpAction,
				Flags:  []cli.Flag{configFlag()},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
