// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/petervdpas/tandem/internal/app"
	"github.com/petervdpas/tandem/internal/config"
	"github.com/petervdpas/tandem/internal/storage"
	"github.com/petervdpas/tandem/internal/util"
)

const configFile = "tandem.json"

var (
	showHelp = pflag.BoolP("help", "h", false, "Show help")
	version  = pflag.Bool("version", false, "Show version")
	envFiles = pflag.StringSlice("env-file", nil, "Load environment from these files (default: <directory>/.env if present)")
	noWatch  = pflag.Bool("no-watch", false, "Do not reload the config file when it changes")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	pflag.Usage = showUsage
	pflag.Parse()

	if *version {
		fmt.Printf("tandem v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := pflag.Args()
	if len(args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command, dir := args[0], args[1]
	absDir, err := filepath.Abs(dir)
	if err != nil {
		fatalf("Invalid data directory: %v", err)
	}

	switch command {
	case "serve":
		runServe(absDir)
	case "init":
		runInit(absDir)
	case "migrate":
		runMigrate(absDir)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		showUsage()
		os.Exit(1)
	}
}

// loadConfig reads <dir>/tandem.json (creating it if missing), then
// applies .env files and TANDEM_* variables on top.
func loadConfig(absDir string) (string, config.Config) {
	if err := loadEnvFiles(absDir); err != nil {
		fatalf("Failed to load env file: %v", err)
	}

	cfgPath := filepath.Join(absDir, configFile)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config at %s\n", cfgPath)
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		fatalf("Invalid configuration: %v", err)
	}
	return cfgPath, cfg
}

// loadEnvFiles never overrides variables already set in the process.
func loadEnvFiles(absDir string) error {
	if len(*envFiles) > 0 {
		return godotenv.Load(*envFiles...)
	}
	err := godotenv.Load(filepath.Join(absDir, ".env"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func runServe(absDir string) {
	cfgPath, cfg := loadConfig(absDir)
	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, app.Options{
		DataDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Watch:   !*noWatch,
	}); err != nil {
		fatalf("Server failed: %v", err)
	}
}

func runInit(absDir string) {
	cfgPath := filepath.Join(absDir, configFile)
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists: %s\n", cfgPath)
		return
	}
	if err := config.Save(cfgPath, config.Default()); err != nil {
		fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", cfgPath)
}

func runMigrate(absDir string) {
	_, cfg := loadConfig(absDir)
	dsn := cfg.Storage.DSN
	if !storage.IsPostgres(dsn) {
		dsn = util.ResolvePath(absDir, dsn)
	}
	db, err := storage.Open(context.Background(), dsn)
	if err != nil {
		fatalf("Migration failed: %v", err)
	}
	defer db.Close()
	fmt.Printf("Schema up to date (%s)\n", db.Dialect())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func showUsage() {
	fmt.Println("tandem - real-time coordination server (presence, call signaling, messages)")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tandem serve <directory>     Run the server from a data directory")
	fmt.Println("  tandem init <directory>      Write a default tandem.json")
	fmt.Println("  tandem migrate <directory>   Apply database migrations and exit")
	fmt.Println()
	fmt.Println("The directory holds tandem.json and, by default, the SQLite database.")
	fmt.Println("Any setting can be overridden with TANDEM_* variables, for example")
	fmt.Println("TANDEM_SERVER_PORT=9000 or TANDEM_STORAGE_DSN=postgres://user:pw@host/db.")
	fmt.Println()
	fmt.Println("Options:")
	pflag.PrintDefaults()
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                        tandem                          ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Data Directory: %s\n", dir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("HTTP:           http://%s\n", cfg.Addr())
	fmt.Printf("WebSocket:      ws://%s/ws?uid=<user>\n", cfg.Addr())
	fmt.Println()
}
