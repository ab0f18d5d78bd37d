package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/othala/internal"
	"github.com/starford/othala/internal/client"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/store"
	pkgconfig "github.com/starford/othala/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

func storeFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "store",
		Usage: "Store directory to open at startup (repeatable)",
	}
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "server",
		Usage:       "Base URL of the running server",
		DefaultText: client.DefaultBaseURL,
		Sources:     cli.EnvVars(client.EnvServer),
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "token",
		Usage:   "Bearer token for servers with auth enabled",
		Sources: cli.EnvVars("OTHALA_TOKEN"),
	}
}

// loadConfig reads the config file named by --config. A missing file is
// only an error when the flag was set explicitly; otherwise the built-in
// defaults apply and the tool runs with no config file at all.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")
	cfg := internal.NewDefaultConfig()

	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}

	loaded, err := pkgconfig.LoadIfExists(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !loaded {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}
	if stores := cmd.StringSlice("store"); len(stores) > 0 {
		opts = append(opts, internal.WithOpenStores(stores...))
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	manager := store.NewManager()
	types := nodetype.NewRegistry()

	for _, path := range cmd.StringSlice("store") {
		id, err := manager.OpenLocalStore(path)
		if err != nil {
			return fmt.Errorf("open store %s: %w", path, err)
		}
		st, err := manager.Store(id)
		if err != nil {
			return fmt.Errorf("open store %s: %w", path, err)
		}
		if err := index.Sync(db, st, types, logger); err != nil {
			logger.Warn("initial sync failed",
				slog.String("store", id.String()),
				slog.String("error", err.Error()))
		}
	}

	return mcpserver.New(manager, db, types).ServeStdio()
}

func newClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("server"), cmd.String("token"))
}

func runCreateStore(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: othala create-store <path> <name>")
	}
	res, err := newClient(cmd).CreateStore(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Printf("store %s created (root %s)\n", res.StoreID, res.RootNodeID)
	return nil
}

func runOpenStore(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: othala open-store <path>")
	}
	info, err := newClient(cmd).OpenStore(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Printf("store %s (%s) open, root %s\n", info.ID, info.Name, info.RootNodeID)
	return nil
}

func runListStores(ctx context.Context, cmd *cli.Command) error {
	stores, err := newClient(cmd).ListStores(ctx)
	if err != nil {
		return err
	}
	if len(stores) == 0 {
		fmt.Println("no stores open")
		return nil
	}
	for _, st := range stores {
		line := fmt.Sprintf("%s  %s", st.ID, st.Name)
		if p, ok := st.LocalPath(); ok {
			line += "  " + p
		}
		fmt.Println(line)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "othala",
		Usage: "Local-first store server with CRDT-backed nodes, full-text search, and live events",
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "Run the HTTP JSON-RPC server",
				Action: runServer,
				Flags:  []cli.Flag{configFlag(), storeFlag()},
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdin/stdout",
				Action: runMCP,
				Flags:  []cli.Flag{configFlag(), storeFlag()},
			},
			{
				Name:      "create-store",
				Usage:     "Create a store through a running server",
				ArgsUsage: "<path> <name>",
				Action:    runCreateStore,
				Flags:     []cli.Flag{serverFlag(), tokenFlag()},
			},
			{
				Name:      "open-store",
				Usage:     "Open a store through a running server",
				ArgsUsage: "<path>",
				Action:    runOpenStore,
				Flags:     []cli.Flag{serverFlag(), tokenFlag()},
			},
			{
				Name:   "list-stores",
				Usage:  "List stores open on a running server",
				Action: runListStores,
				Flags:  []cli.Flag{serverFlag(), tokenFlag()},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
