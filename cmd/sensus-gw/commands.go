package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/sensus-gw/internal/api"
	"github.com/mattjoyce/sensus-gw/internal/doctor"
	"github.com/mattjoyce/sensus-gw/internal/lock"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/tui/watch"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL = "http://localhost:8080"
	envAPIKey     = "SENSUS_API_KEY"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Ops API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", envAPIKey)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runSystemExit(args []string) int {
	fs := flag.NewFlagSet("exit", flag.ContinueOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Ops API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	reason := fs.String("reason", "requested via CLI", "Reason recorded in the gateway log")
	configPath := fs.String("config", "", "Config file, used to report the pid of the running instance")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", envAPIKey)
		return 1
	}

	if *configPath != "" {
		if cfg, _, err := loadConfig(*configPath); err == nil && lock.Held(cfg.LockPath) {
			if pid, err := lock.ReadPID(cfg.LockPath); err == nil {
				fmt.Printf("Gateway running as pid %d\n", pid)
			}
		}
	}

	ack, err := requestExit(context.Background(), *apiURL, *apiKey, *reason)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exit request failed: %v\n", err)
		return 1
	}
	fmt.Printf("Gateway accepted exit request (%s): %s\n", ack.Status, ack.Reason)
	return 0
}

func requestExit(ctx context.Context, apiURL, apiKey, reason string) (*api.ExitResponse, error) {
	body, err := json.Marshal(api.ExitRequest{Reason: reason})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := strings.TrimRight(apiURL, "/") + "/system/exit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var ack api.ExitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ack, nil
}

type unitListing struct {
	Name    string      `json:"name"`
	Kind    plugin.Kind `json:"kind"`
	Enabled bool        `json:"enabled"`
	Version string      `json:"version"`
	Builtin bool        `json:"builtin"`
	Path    string      `json:"path"`
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	units, err := plugin.Discover(cfg.Plugins.FolderDir, cfg.Plugins.FileDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery failed: %v\n", err)
		return 1
	}

	listing := make([]unitListing, 0, len(units))
	for _, u := range units {
		_, builtin := plugin.Default.Lookup(u.Name)
		listing = append(listing, unitListing{
			Name:    u.Name,
			Kind:    u.Kind,
			Enabled: u.Enabled,
			Version: u.Version,
			Builtin: builtin,
			Path:    u.Path,
		})
	}

	if *jsonOut {
		return printJSON(listing)
	}

	if len(listing) == 0 {
		fmt.Println("No plugin units discovered.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tENABLED\tVERSION\tBUILTIN\tPATH")
	for _, u := range listing {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%t\t%s\n", u.Name, u.Kind, u.Enabled, u.Version, u.Builtin, u.Path)
	}
	_ = tw.Flush()
	return 0
}

type checkResult struct {
	Path        string `json:"path,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Units       int    `json:"units"`
	*doctor.Result
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	res := checkResult{}
	cfg, path, err := loadConfig(*configPath)
	res.Path = path
	var units []*plugin.Unit
	if err == nil {
		res.Fingerprint = cfg.Fingerprint()
		units, err = plugin.Discover(cfg.Plugins.FolderDir, cfg.Plugins.FileDir)
		res.Units = len(units)
	}
	if err != nil {
		res.Result = &doctor.Result{Errors: []doctor.Issue{{Category: "config", Message: err.Error()}}}
	} else {
		res.Result = doctor.New(cfg, units, nil).Validate()
	}

	if *jsonOut {
		printJSON(res)
	} else {
		if res.Path != "" {
			fmt.Printf("Config: %s\n", res.Path)
		}
		if res.Fingerprint != "" {
			fmt.Printf("Fingerprint: %s\n", res.Fingerprint)
		}
		fmt.Printf("Plugin units discovered: %d\n", res.Units)
		fmt.Print(doctor.FormatHuman(res.Result))
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: sensus-gw config show [--config PATH] [--json] [key.path]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	value, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(value)
	}
	out, err := yaml.Marshal(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}
