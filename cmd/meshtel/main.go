// meshtel is the command-line front end of the encrypted mesh telemetry
// store. Every command opens the store in the configured data directory,
// does its work and flushes on exit; "run" keeps the store open, ingesting
// JSON records from stdin until EOF or a signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/config"
	"github.com/dreadstar/orbot-meshrabiya-integration/internal/monitoring"
)

var version = "dev"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"run", "keep the store open and ingest JSON records from stdin", cmdRun},
	{"log", "record one JSON record or array (argument or stdin)", cmdLog},
	{"logs", "print visible diagnostic entries", cmdLogs},
	{"export", "write an encrypted export bundle of diagnostic entries", cmdExport},
	{"import", "merge an export bundle (name or file path)", cmdImport},
	{"clear", "delete all diagnostic entries", cmdClear},
	{"stats", "print store statistics", cmdStats},
	{"prune", "drop diagnostic entries outside retention", cmdPrune},
	{"keygen", "generate an age keypair for maintainer exports", cmdKeygen},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout io.Writer) error {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		printUsage()
		return nil
	}
	if argv[0] == "--version" || argv[0] == "version" {
		fmt.Fprintln(stdout, "meshtel", version)
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == argv[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		printUsage()
		return fmt.Errorf("unknown command %q", argv[0])
	}

	env := &environment{name: cmd.name, stdin: stdin, stdout: stdout}
	defer env.close()
	return cmd.run(ctx, env, argv[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: meshtel <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'meshtel <command> --help' for command flags.\n")
}

// environment holds the flags shared by every command and the state derived
// from them.
type environment struct {
	name   string
	stdin  io.Reader
	stdout io.Writer

	configPath string
	envFile    string
	dataDir    string
	logLevel   string

	cfg    *config.Config
	logger *monitoring.Logger
}

// flagSet returns a FlagSet preloaded with the shared flags.
func (e *environment) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("meshtel "+e.name, pflag.ContinueOnError)
	fs.StringVarP(&e.configPath, "config", "c", os.Getenv("MESHTEL_CONFIG"), "path to YAML config file")
	fs.StringVar(&e.envFile, "env-file", "", "load environment variables from this .env file")
	fs.StringVar(&e.dataDir, "data-dir", "", "override store.data_dir")
	fs.StringVar(&e.logLevel, "log-level", "", "override logging.level")
	return fs
}

// setup loads .env files and configuration and installs the logger.
func (e *environment) setup() error {
	if e.envFile != "" {
		if err := godotenv.Load(e.envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	if e.dataDir != "" {
		os.Setenv(config.EnvDataDir, e.dataDir)
	}
	if e.logLevel != "" {
		os.Setenv(config.EnvLogLevel, e.logLevel)
	}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = monitoring.Global(cfg.LoggerConfig())
	log.Debug().Str("command", e.name).Str("data_dir", cfg.Store.DataDir).Msg("configuration loaded")
	return nil
}

func (e *environment) close() {
	if e.logger != nil {
		_ = e.logger.Close()
	}
}
