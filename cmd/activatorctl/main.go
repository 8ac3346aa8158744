// Command activatorctl inspects Activator resources and link frames from a
// host machine.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
	"golang.org/x/term"
)

// LevelTrace defines a custom slog level below Debug for very verbose output.
const LevelTrace slog.Level = -8

type Log struct {
	Level string `help:"Log level: trace, debug, info, warn, error" default:"info" enum:"trace,debug,info,warn,error" env:"ACTIVATOR_LOG_LEVEL"`
	JSON  bool   `help:"Log as JSON (default when stderr is not a terminal)" env:"ACTIVATOR_LOG_JSON"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log    `embed:"" prefix:"log."`
	Config kong.ConfigFlag `help:"JSON configuration file" env:"ACTIVATOR_CONFIG"`

	Bitmap BitmapCmd `cmd:"" help:"Decode a bitmap resource blob"`
	Frame  FrameCmd  `cmd:"" help:"Encode a phone push frame as hex"`
	Decode DecodeCmd `cmd:"" help:"Parse a hex frame and list its tuples"`
}

func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("activatorctl"),
		kong.Description("Host tool for the Activator watch firmware."),
		kong.UsageOnError(),
	}, options...)
	return kong.New(cli, options...)
}

// configPaths returns the candidate configuration files per format. Later
// files override earlier ones.
func configPaths() (jsonPaths, yamlPaths, tomlPaths []string) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, nil, nil
	}
	base := filepath.Join(dir, "activatorctl", "config")
	return []string{base + ".json"}, []string{base + ".yaml", base + ".yml"}, []string{base + ".toml"}
}

func newHandler(w io.Writer, level slog.Level, asJSON bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// run parses args and executes the selected command, writing results to out
// and logs to logOut.
func run(args []string, out, logOut io.Writer, options ...kong.Option) error {
	var cli CLI
	parser, err := newParser(&cli, options...)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	logger := slog.New(newHandler(logOut, ParseLevel(cli.Log.Level), cli.Log.JSON))
	ctx.Bind(logger)
	ctx.BindTo(out, (*io.Writer)(nil))

	return ctx.Run()
}

func main() {
	args := os.Args[1:]
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		args = append([]string{"--log.json"}, args...)
	}

	jsonPaths, yamlPaths, tomlPaths := configPaths()
	err := run(args, os.Stdout, os.Stderr,
		// Flags and env override the configuration files
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "activatorctl:", err)
		os.Exit(1)
	}
}
