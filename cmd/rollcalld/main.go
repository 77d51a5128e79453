// Command rollcalld runs the rollcall daemon: the single worker loop that
// drains the diarization queue, plus the intake watcher and retention janitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"rollcall/internal/config"
	"rollcall/internal/daemonrun"
)

type cliArgs struct {
	configPath string
	logLevel   string
	dev        bool
}

func parseArgs(args []string) (cliArgs, error) {
	fs := flag.NewFlagSet("rollcalld", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	parsed := cliArgs{}
	fs.StringVar(&parsed.configPath, "config", "", "configuration file path")
	fs.StringVar(&parsed.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.BoolVar(&parsed.dev, "dev", false, "development mode logging")
	if err := fs.Parse(args); err != nil {
		return cliArgs{}, err
	}
	if fs.NArg() > 0 {
		return cliArgs{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return parsed, nil
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, _, _, err := config.Load(args.configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := args.logLevel
	if level == "" {
		level = cfg.Logging.Level
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:    level,
		Development: args.dev,
	}); err != nil {
		log.Fatalf("rollcalld: %v", err)
	}
}
