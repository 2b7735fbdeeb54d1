package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/daemon"
	"github.com/weftlabs/weft/internal/events"
	"github.com/weftlabs/weft/internal/uds"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "cancel":
		runCommandOp(uds.OpCancelCommand, "cancel", os.Args[2:])
	case "pause":
		runCommandOp(uds.OpPauseCommand, "pause", os.Args[2:])
	case "abort":
		runAbortOrFail(uds.OpAbortCommand, "abort", os.Args[2:])
	case "fail":
		runAbortOrFail(uds.OpFail, "fail", os.Args[2:])
	case "progress":
		runUpdateDoc(uds.OpProgress, "progress", os.Args[2:])
	case "complete":
		runUpdateDoc(uds.OpComplete, "complete", os.Args[2:])
	case "state":
		runState(os.Args[2:])
	case "info":
		runInfo(os.Args[2:])
	case "reload":
		runReload(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("weftd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	weftDir := findWeftDir()
	if weftDir == "" {
		fmt.Fprintln(os.Stderr, "error: .weft/ directory not found. Run 'weftd init <dir>' first.")
		os.Exit(1)
	}

	cfg, err := config.Load(filepath.Join(weftDir, "weft.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(weftDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: weftd init <project_dir>")
		os.Exit(1)
	}

	weftDir := filepath.Join(args[0], ".weft")
	for _, dir := range []string{weftDir, filepath.Join(weftDir, "definitions"), filepath.Join(weftDir, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
	}

	cfgPath := filepath.Join(weftDir, "weft.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Save(cfgPath, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "init: write config: %v\n", err)
			os.Exit(1)
		}
	}

	absDir, _ := filepath.Abs(args[0])
	fmt.Printf("Initialized .weft/ in %s\n", absDir)
}

func runSubmit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: weftd submit <package.command> [--params <json>] [--role <role>] [--id <id>]")
		os.Exit(1)
	}

	name := args[0]
	rest := args[1:]

	var paramsJSON, role, id string
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--params":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--params requires a value")
				os.Exit(1)
			}
			i++
			paramsJSON = rest[i]
		case "--role":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--role requires a value")
				os.Exit(1)
			}
			i++
			role = rest[i]
		case "--id":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--id requires a value")
				os.Exit(1)
			}
			i++
			id = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}

	doc := map[string]any{"name": name}
	if id != "" {
		doc["id"] = id
	}
	if paramsJSON != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --params: %v\n", err)
			os.Exit(1)
		}
		doc["parameters"] = params
	}

	callAndPrint(uds.OpSubmitCommand, uds.SubmitParams{Command: doc, Role: role})
}

func runStatus(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: weftd status <command_id>")
		os.Exit(1)
	}
	callAndPrint(uds.OpCommandStatus, uds.CommandIDParams{ID: args[0]})
}

func runList(_ []string) {
	callAndPrint(uds.OpListCommands, nil)
}

func runCommandOp(op, name string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: weftd %s <command_id>\n", name)
		os.Exit(1)
	}
	callAndPrint(op, uds.UpdateParams{ID: args[0]})
}

func runAbortOrFail(op, name string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: weftd %s <command_id> [--message <text>]\n", name)
		os.Exit(1)
	}

	params := uds.UpdateParams{ID: args[0]}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--message":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--message requires a value")
				os.Exit(1)
			}
			i++
			params.Message = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}

	callAndPrint(op, params)
}

func runUpdateDoc(op, name string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: weftd %s <command_id> [--document <json>]\n", name)
		os.Exit(1)
	}

	params := uds.UpdateParams{ID: args[0]}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--document":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--document requires a value")
				os.Exit(1)
			}
			i++
			var doc map[string]any
			if err := json.Unmarshal([]byte(rest[i]), &doc); err != nil {
				fmt.Fprintf(os.Stderr, "invalid --document: %v\n", err)
				os.Exit(1)
			}
			params.Document = doc
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}

	callAndPrint(op, params)
}

func runState(args []string) {
	if len(args) == 0 || args[0] == "get" {
		callAndPrint(uds.OpGetState, nil)
		return
	}

	switch args[0] {
	case "set":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: weftd state set <package.property> <value_json>")
			os.Exit(1)
		}
		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			// Treat an unparseable value as a bare string
			value = args[2]
		}
		callAndPrint(uds.OpSetState, uds.SetStateParams{Property: args[1], Value: value})
	default:
		fmt.Fprintf(os.Stderr, "unknown state subcommand: %s\nusage: weftd state [get|set]\n", args[0])
		os.Exit(1)
	}
}

func runInfo(_ []string) {
	callAndPrint(uds.OpDeviceInfo, nil)
}

func runReload(_ []string) {
	callAndPrint(uds.OpReloadDefs, nil)
}

func runShutdown(_ []string) {
	callAndPrint("shutdown", nil)
}

func runAudit(args []string) {
	if len(args) < 1 || args[0] != "verify" {
		fmt.Fprintln(os.Stderr, "usage: weftd audit verify")
		os.Exit(1)
	}

	weftDir := findWeftDir()
	if weftDir == "" {
		fmt.Fprintln(os.Stderr, "error: .weft/ directory not found. Run 'weftd init <dir>' first.")
		os.Exit(1)
	}

	logPath := filepath.Join(weftDir, "logs", "audit.jsonl")
	total, valid, err := events.VerifyLogIntegrity(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit verify: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d entries, %d valid\n", total, valid)
	if valid != total {
		os.Exit(1)
	}
}

func callAndPrint(op string, params any) {
	weftDir := findWeftDir()
	if weftDir == "" {
		fmt.Fprintln(os.Stderr, "error: .weft/ directory not found. Run 'weftd init <dir>' first.")
		os.Exit(1)
	}

	client := uds.NewClient(filepath.Join(weftDir, uds.DefaultSocketName))
	resp, err := client.Call(op, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if !resp.Success {
		out, _ := json.MarshalIndent(resp.Error, "", "  ")
		fmt.Fprintf(os.Stderr, "%s\n", out)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
		} else {
			fmt.Println(string(resp.Data))
		}
	}
}

// findWeftDir searches for .weft/ in the current directory and ancestors.
func findWeftDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".weft")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `weftd %s — device command daemon

Usage: weftd <command> [options]

Setup:
  init <dir>        Initialize .weft/ directory
  daemon            Run the daemon process

Commands:
  submit <name> [--params <json>] [--role <role>] [--id <id>]
                    Submit a command to the device
  status <id>       Show one queued command
  list              List queued commands
  cancel <id>       Cancel a queued command
  pause <id>        Pause a command
  abort <id> [--message <text>]
                    Abort a command
  progress <id> [--document <json>]
                    Report handler progress
  complete <id> [--document <json>]
                    Report handler results and finish
  fail <id> [--message <text>]
                    Put a command into the error state

Device:
  state [get]       Show device state
  state set <package.property> <value_json>
                    Set a state property
  info              Show device description
  reload            Reload command definitions from disk
  audit verify      Check audit log integrity
  shutdown          Stop the daemon

  version           Show version
  help              Show this help
`, version)
}
