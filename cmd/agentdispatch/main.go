// Command agentdispatch runs the transport-selecting dispatcher.
//
// Usage:
//
//	agentdispatch serve --config dispatch.yaml --capabilities capabilities.yaml
//	agentdispatch call summarize '{"text":"..."}' --hint rpc
//	agentdispatch schema > dispatch.schema.json
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/config"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Run the dispatcher with its health server until interrupted."`
	Call    CallCmd    `cmd:"" help:"Dispatch a single operation and print the result."`
	Schema  SchemaCmd  `cmd:"" help:"Generate JSON Schema for the configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `help:"Log format (json, console). Overrides the config file."`
}

// load reads the configuration and builds the logger it asks for
func (c *CLI) load() (config.Config, logging.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, nil, err
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	return cfg, newLogger(cfg.Logging), nil
}

func newLogger(cfg config.LoggingConfig) logging.Logger {
	logger := logging.New(os.Stderr, logging.Format(cfg.Format))
	logger.SetLevel(logging.ParseLevel(cfg.Level))
	logging.SetGlobalLogger(logger)
	return logger
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("agentdispatch version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agentdispatch"),
		kong.Description("Dispatch agent operations over the best available transport."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
