// Command flagfiled is the server binary: it loads a TOML config, wires
// every service, and serves HTTP until SIGINT/SIGTERM, in the style of
// cmd/kapacitord's top-level command dispatch, trimmed to this binary's
// much smaller surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dzhibas/flagfiled/server"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "flagfiled:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return runServe(args)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "config-check":
		return runConfigCheck(args[1:])
	case "version":
		fmt.Println("flagfiled", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: flagfiled [command]

Commands:
  serve          run the server (default if no command given)
  config-check   load and validate a config file, then exit
  version        print the build version
  help           print this message`)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to flagfiled.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := server.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}

	s, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := s.Open(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return s.Close()
}

func runConfigCheck(args []string) error {
	fs := flag.NewFlagSet("config-check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to flagfiled.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := server.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("config OK")
	return nil
}
