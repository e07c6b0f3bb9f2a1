package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/instamatic-dev/instamatic-sub003/internal/daemon"
	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	"github.com/instamatic-dev/instamatic-sub003/internal/setup"
	"github.com/instamatic-dev/instamatic-sub003/internal/status"
	"github.com/instamatic-dev/instamatic-sub003/internal/uds"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "ctrl":
		runCtrl(os.Args[2:])
	case "cred":
		runCred(os.Args[2:])
	case "sed":
		runSed(os.Args[2:])
	case "debug":
		runDebug(os.Args[2:])
	case "exit":
		runExit(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("instamatic %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	workDir := findWorkDir()
	if workDir == "" {
		fmt.Fprintln(os.Stderr, "error: no config.yaml found. Run 'instamatic setup <dir>' first.")
		os.Exit(1)
	}

	cfg, err := model.LoadConfig(filepath.Join(workDir, "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(workDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: instamatic setup <work_dir> [--name <instrument>]")
		os.Exit(1)
	}

	dir := args[0]
	name := ""
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: instamatic setup <work_dir> [--name <instrument>]\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized work directory %s\n", absDir)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: instamatic status [--json]\n", a)
			os.Exit(1)
		}
	}

	workDir := findWorkDir()
	if workDir == "" {
		fmt.Fprintln(os.Stderr, "error: no config.yaml found. Run 'instamatic setup <dir>' first.")
		os.Exit(1)
	}

	if err := status.Run(workDir, jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runPing(_ []string) {
	sendCommand("ping", nil)
}

func runCtrl(args []string) {
	payload := map[string]any{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--stage-alpha":
			payload["stage_alpha"] = floatFlag(args, &i)
		case "--beam-shift-x":
			payload["beam_shift_x"] = floatFlag(args, &i)
		case "--beam-shift-y":
			payload["beam_shift_y"] = floatFlag(args, &i)
		case "--blank":
			payload["blank"] = true
		case "--unblank":
			payload["blank"] = false
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: instamatic ctrl [--stage-alpha <deg>] [--beam-shift-x <v>] [--beam-shift-y <v>] [--blank|--unblank]")
			os.Exit(1)
		}
	}
	if len(payload) == 0 {
		fmt.Fprintln(os.Stderr, "usage: instamatic ctrl [--stage-alpha <deg>] [--beam-shift-x <v>] [--beam-shift-y <v>] [--blank|--unblank]")
		os.Exit(1)
	}

	sendCommand("submit", map[string]any{"category": "ctrl", "payload": payload})
}

func runCred(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: instamatic cred <start|stop> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		payload := map[string]any{}
		rest := args[1:]
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "--exposure":
				payload["exposure"] = floatFlag(rest, &i)
			case "--settle":
				payload["settle"] = floatFlag(rest, &i)
			case "--name":
				payload["name"] = stringFlag(rest, &i)
			case "--unblank":
				payload["unblank"] = true
			default:
				fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
				fmt.Fprintln(os.Stderr, "usage: instamatic cred start [--exposure <sec>] [--settle <sec>] [--name <s>] [--unblank]")
				os.Exit(1)
			}
		}
		sendCommand("submit", map[string]any{"category": "cred", "payload": payload})
	case "stop":
		sendCommand("stop", map[string]any{"category": "cred"})
	default:
		fmt.Fprintf(os.Stderr, "unknown cred subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: instamatic cred <start|stop> [options]")
		os.Exit(1)
	}
}

func runSed(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: instamatic sed <start|stop> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		payload := map[string]any{}
		rest := args[1:]
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "--params-file":
				payload["params_file"] = stringFlag(rest, &i)
			default:
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: instamatic sed start [--params-file <file>]\n", rest[i])
				os.Exit(1)
			}
		}
		sendCommand("submit", map[string]any{"category": "sed", "payload": payload})
	case "stop":
		sendCommand("stop", map[string]any{"category": "sed"})
	default:
		fmt.Fprintf(os.Stderr, "unknown sed subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: instamatic sed <start|stop> [options]")
		os.Exit(1)
	}
}

func runDebug(args []string) {
	payload := map[string]any{}
	for _, a := range args {
		switch a {
		case "--live":
			payload["live"] = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: instamatic debug [--live]\n", a)
			os.Exit(1)
		}
	}
	sendCommand("submit", map[string]any{"category": "debug", "payload": payload})
}

func runExit(_ []string) {
	sendCommand("exit", nil)
}

func runShutdown(_ []string) {
	sendCommand("shutdown", nil)
}

func sendCommand(command string, params map[string]any) {
	workDir := findWorkDir()
	if workDir == "" {
		fmt.Fprintln(os.Stderr, "error: no config.yaml found. Run 'instamatic setup <dir>' first.")
		os.Exit(1)
	}

	client := uds.NewClient(filepath.Join(workDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
		if code == uds.ErrCodeBackpressure {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
		fmt.Println(string(out))
	}
}

func floatFlag(args []string, i *int) float64 {
	name := args[*i]
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", name)
		os.Exit(1)
	}
	*i++
	v, err := strconv.ParseFloat(args[*i], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", name, args[*i])
		os.Exit(1)
	}
	return v
}

func stringFlag(args []string, i *int) string {
	name := args[*i]
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", name)
		os.Exit(1)
	}
	*i++
	return args[*i]
}

// findWorkDir searches for config.yaml in the current directory and ancestors.
func findWorkDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil && !info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `instamatic %s — event-driven TEM acquisition daemon

Usage: instamatic <command> [options]

Work directory:
  setup <dir> [--name <instrument>]   Initialize a work directory
  daemon                              Run the acquisition daemon
  status [--json]                     Show daemon and collection status

Acquisition (CLI -> daemon):
  ctrl [options]          One-shot instrument adjustment
  cred start [options]    Start continuous rotation acquisition
  cred stop               Stop the running cRED acquisition
  sed start [options]     Run a scanning acquisition from the params file
  sed stop                Cancel the running SED acquisition
  debug [--live]          Dump daemon and instrument state to the log

Daemon control:
  ping                    Check the daemon is alive
  exit                    Ask the dispatch loop to terminate
  shutdown                Full graceful shutdown

  version                 Show version
  help                    Show this help

`, version)
}
