package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"

	"github.com/go-elements/miniscript"
)

// version is the version of the miniscript tool.
const version = "0.1.0"

// seenCacheSize is the number of recently analyzed inputs remembered in
// batch mode so duplicate lines are reported only once.
const seenCacheSize = 4096

// report collects everything the tool knows about one expression or script.
type report struct {
	Input               string `json:"input"`
	Context             string `json:"context"`
	Expression          string `json:"expression,omitempty"`
	Type                string `json:"type,omitempty"`
	Properties          string `json:"properties,omitempty"`
	Script              string `json:"script,omitempty"`
	Asm                 string `json:"asm,omitempty"`
	ScriptLen           int    `json:"scriptLen,omitempty"`
	MaxOpCount          int    `json:"maxOpCount,omitempty"`
	MaxSatisfactionSize int    `json:"maxSatisfactionSize,omitempty"`
	MaxWitnessItems     int    `json:"maxWitnessItems,omitempty"`
	Sane                bool   `json:"sane"`
	SaneError           string `json:"saneError,omitempty"`
	Tree                string `json:"tree,omitempty"`
	Error               string `json:"error,omitempty"`
}

// analyze runs one input through the library and fills in a report. The
// input is an expression in text notation, or a hex encoded script when the
// hex option is set.
func analyze(cfg *config, ctx miniscript.Context, input string) (*report,
	error) {

	var validationFlags miniscript.ValidationFlags
	if cfg.NoPolicy {
		validationFlags |= miniscript.SkipPolicyChecks
	}

	var (
		node *miniscript.Miniscript
		err  error
	)
	if cfg.Hex {
		script, decErr := hex.DecodeString(input)
		if decErr != nil {
			return nil, fmt.Errorf("invalid hex script: %v", decErr)
		}
		node, err = miniscript.DecodeWithFlags(
			script, ctx, validationFlags,
		)
	} else {
		node, err = miniscript.ParseWithFlags(
			input, ctx, validationFlags,
		)
	}
	if err != nil {
		return nil, err
	}

	script, err := node.Script()
	if err != nil {
		return nil, err
	}
	asm, err := txscript.DisasmString(script)
	if err != nil {
		return nil, err
	}

	rep := &report{
		Input:      input,
		Context:    ctx.String(),
		Expression: node.String(),
		Type:       node.Type(),
		Properties: node.Properties(),
		Script:     hex.EncodeToString(script),
		Asm:        asm,
		ScriptLen:  node.ScriptLen(),
	}
	// Cost queries are meaningless without a concrete context.
	if ctx != miniscript.ContextNoChecks {
		rep.MaxOpCount = node.MaxOpCount()
		if size, err := node.MaxSatisfactionSize(); err == nil {
			rep.MaxSatisfactionSize = size
		}
		if items, err := node.MaxWitnessItems(); err == nil {
			rep.MaxWitnessItems = items
		}
	}
	if err := node.IsSane(); err != nil {
		rep.SaneError = err.Error()
	} else {
		rep.Sane = true
	}
	if cfg.Tree {
		rep.Tree = node.DrawTree()
	}

	mainLog.Tracef("analyzed %q: %v", input, newLogClosure(func() string {
		return spew.Sdump(rep)
	}))
	return rep, nil
}

// printReport writes the plain text form of a report to stdout.
func printReport(rep *report) {
	fmt.Printf("expression:   %s\n", rep.Expression)
	fmt.Printf("context:      %s\n", rep.Context)
	fmt.Printf("type:         %s", rep.Type)
	if rep.Properties != "" {
		fmt.Printf("  properties: %s", rep.Properties)
	}
	fmt.Println()
	fmt.Printf("script:       %s\n", rep.Script)
	fmt.Printf("asm:          %s\n", rep.Asm)
	fmt.Printf("script len:   %d\n", rep.ScriptLen)
	if rep.MaxOpCount > 0 {
		fmt.Printf("max ops:      %d\n", rep.MaxOpCount)
	}
	if rep.MaxSatisfactionSize > 0 {
		fmt.Printf("max sat size: %d\n", rep.MaxSatisfactionSize)
	}
	if rep.MaxWitnessItems > 0 {
		fmt.Printf("max items:    %d\n", rep.MaxWitnessItems)
	}
	if rep.Sane {
		fmt.Println("sane:         yes")
	} else {
		fmt.Printf("sane:         no (%s)\n", rep.SaneError)
	}
	if rep.Tree != "" {
		fmt.Println(rep.Tree)
	}
	fmt.Println()
}

// printJSON writes a report as a single JSON line to stdout.
func printJSON(rep *report) {
	out, err := json.Marshal(rep)
	if err != nil {
		mainLog.Errorf("failed to marshal report: %v", err)
		return
	}
	fmt.Println(string(out))
}

func realMain() int {
	cfg, args, err := loadConfig()
	if err != nil {
		return 1
	}
	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer logRotator.Close()
	}
	setLogLevels(cfg.DebugLevel)

	ctx, err := parseContext(cfg.Context)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	seen := lru.NewCache(seenCacheSize)
	failed := false
	process := func(input string) {
		input = strings.TrimSpace(input)
		if input == "" || strings.HasPrefix(input, "#") {
			return
		}
		if seen.Contains(input) {
			mainLog.Debugf("skipping duplicate input %q", input)
			return
		}
		seen.Add(input)

		rep, err := analyze(cfg, ctx, input)
		if err != nil {
			failed = true
			if cfg.JSON {
				printJSON(&report{
					Input:   input,
					Context: ctx.String(),
					Error:   err.Error(),
				})
			} else {
				fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
			}
			return
		}
		if cfg.JSON {
			printJSON(rep)
		} else {
			printReport(rep)
		}
	}

	for _, arg := range args {
		process(arg)
	}
	if cfg.Batch {
		scanner := bufio.NewScanner(os.Stdin)
		// Allow for large scripts; the default token size is too
		// small for a hex encoded maximum size script.
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			process(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read stdin: %v\n",
				err)
			return 1
		}
	}

	if failed {
		return 1
	}
	return 0
}

func main() {
	os.Exit(realMain())
}
