package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sparrowvision/accessgov/internal/config"
	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/reconcile"
	"github.com/sparrowvision/accessgov/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: accessgov [flags] <command>

Commands:
  sync                      Run one directory sync and print the stats
  reconcile -file <path>    Reconcile an exported JSON user list against
                            the directory and print the result
  version                   Show version information

Flags:
  -config <path>            Path to configuration file (default config.yaml)
`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion || flag.Arg(0) == "version" {
		fmt.Printf("accessgov v%s (built %s)\n", version, buildTime)
		return
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	switch cmd {
	case "sync":
		runSync(ctx, cfg)
	case "reconcile":
		runReconcile(ctx, cfg, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func runSync(ctx context.Context, cfg *config.Config) {
	st := openStore(cfg)
	defer st.Close()

	syncer, err := directory.NewSyncer(directory.SyncConfig{
		BaseURL:    cfg.Directory.BaseURL,
		APIKey:     cfg.Directory.APIKey,
		OrgID:      cfg.Directory.OrgID,
		PageSize:   cfg.Directory.PageSize,
		MaxRetries: cfg.Directory.MaxRetries,
		RetryDelay: cfg.Directory.RetryDelay,
		Timeout:    cfg.Directory.Timeout,
	}, st, nil)
	if err != nil {
		fatalf("Directory sync is not configured: %v", err)
	}

	stats, err := syncer.Sync(ctx)
	if err != nil {
		fatalf("Sync failed: %v", err)
	}

	printJSON(stats)
}

func runReconcile(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	file := fs.String("file", "", "Path to an exported JSON array of tool accounts")
	_ = fs.Parse(args)

	if *file == "" {
		fatalf("reconcile requires -file")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fatalf("Failed to read %s: %v", *file, err)
	}

	var accounts []models.ToolAccountRecord
	if err := json.Unmarshal(data, &accounts); err != nil {
		fatalf("Failed to parse %s: %v", *file, err)
	}

	st := openStore(cfg)
	defer st.Close()

	identities, err := st.ListIdentities(ctx, directory.IdentityFilter{})
	if err != nil {
		fatalf("Failed to load directory: %v", err)
	}

	engine := reconcile.NewEngine(cfg.Governance.OrgDomain)
	result := engine.Reconcile(accounts, identities)

	printJSON(result)
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		fatalf("Failed to connect to database: %v", err)
	}
	return st
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("Failed to encode output: %v", err)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
