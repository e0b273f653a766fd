package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	_ "github.com/mattjoyce/sensus-gw/internal/units/builtin"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: sensus-gw version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("sensus-gw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func printUsage() {
	fmt.Print(`sensus-gw - websocket message gateway with hot-loadable plugin units

Usage:
  sensus-gw <noun> <action> [flags]

Core Resources (Nouns):
  system    Gateway lifecycle and health
  config    Configuration validation and inspection
  plugin    Plugin unit discovery

System Commands:
  system start      Start the gateway in the foreground
  system watch      Live connections and event stream TUI
  system exit       Ask a running gateway to shut down

Config Commands:
  config check      Validate the configuration file
  config show       Print the resolved configuration (secrets masked)

Plugin Commands:
  plugin list       Show discovered plugin units

General:
  version           Show version information
  help              Show this help message

Use 'sensus-gw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "exit":
		if hasHelpFlag(actionArgs) {
			printSystemExitHelp()
			return 0
		}
		return runSystemExit(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPluginNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printPluginListHelp()
			return 0
		}
		return runPluginList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n\n", action)
		printPluginNounHelp(os.Stderr)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if isHelpToken(a) {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensus-gw system <start|watch|exit> [flags]")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensus-gw config <check|show> [flags]")
}

func printPluginNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensus-gw plugin <list> [flags]")
}

func printSystemStartHelp() {
	fmt.Println("Usage: sensus-gw system start [--config PATH]")
	fmt.Println("Run the gateway in the foreground until SIGINT/SIGTERM or a unit requests exit.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: sensus-gw system watch [flags]")
	fmt.Println()
	fmt.Println("Live TUI over the ops API: health, connections and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Ops API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or SENSUS_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select connection")
	fmt.Println("  r                Resync connection list")
}

func printSystemExitHelp() {
	fmt.Println("Usage: sensus-gw system exit [--reason TEXT] [--api-url URL] [--api-key KEY]")
	fmt.Println("Ask a running gateway to shut down gracefully. Requires the system:rw scope.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: sensus-gw config check [--config PATH] [--json]")
	fmt.Println("Validate configuration and report plugin locations.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: sensus-gw config show [--config PATH] [--json] [key.path]")
	fmt.Println("Print the resolved configuration with defaults applied and secrets masked.")
}

func printPluginListHelp() {
	fmt.Println("Usage: sensus-gw plugin list [--config PATH] [--json]")
	fmt.Println("Discover plugin units without loading them.")
}
