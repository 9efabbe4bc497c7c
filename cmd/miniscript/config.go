package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/go-elements/miniscript"
)

const (
	defaultContext  = "segwitv0"
	defaultLogLevel = "info"
)

// config defines the configuration options for the miniscript tool.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Context     string `short:"c" long:"context" description:"Script context to validate against {bare, legacy, segwitv0, tap, nochecks}"`
	Hex         bool   `short:"x" long:"hex" description:"Treat inputs as hex encoded scripts to decode instead of expressions to parse"`
	JSON        bool   `short:"j" long:"json" description:"Print one JSON document per input instead of the plain report"`
	Tree        bool   `short:"t" long:"tree" description:"Include the annotated fragment tree in the report"`
	Batch       bool   `long:"batch" description:"Read further inputs from standard input, one per line; lines starting with # are skipped"`
	NoPolicy    bool   `long:"nopolicy" description:"Skip standardness policy checks; consensus checks always apply"`
	LogFile     string `long:"logfile" description:"Write logs to this file, rotated at 10 MiB"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// parseContext maps a context name from the command line to the script
// context to validate against.
func parseContext(name string) (miniscript.Context, error) {
	switch strings.ToLower(name) {
	case "bare":
		return miniscript.ContextBare, nil
	case "legacy", "p2sh":
		return miniscript.ContextLegacy, nil
	case "segwitv0", "p2wsh":
		return miniscript.ContextSegwitV0, nil
	case "tap", "tapscript":
		return miniscript.ContextTap, nil
	case "nochecks":
		return miniscript.ContextNoChecks, nil
	}
	return 0, fmt.Errorf("unknown context %q -- supported contexts are "+
		"bare, legacy, segwitv0, tap and nochecks", name)
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		Context:    defaultContext,
		DebugLevel: defaultLogLevel,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if cfg.ShowVersion {
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	// Validate debug log level.
	if !validLogLevel(cfg.DebugLevel) {
		str := "the specified debug level [%v] is invalid"
		err := fmt.Errorf(str, cfg.DebugLevel)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// There must be something to analyze.
	if len(remainingArgs) == 0 && !cfg.Batch {
		err := fmt.Errorf("no expressions or scripts given -- pass " +
			"them as arguments or use --batch to read from stdin")
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
