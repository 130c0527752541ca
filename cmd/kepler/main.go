// Command kepler serves the research paper question-answering API.
//
// Usage:
//
//	kepler serve --config kepler.yaml
//	kepler serve --config kepler.yaml --port 9090
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"kepler.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text, json)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
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
	fmt.Printf("kepler version %s\n", version)
	return nil
}

func main() {
	// A local .env is optional; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("kepler"),
		kong.Description("Agentic question answering over arXiv papers."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
