// Command retro is a thin CLI wrapper over the retro client-core
// library: register/login/send/recv/add-friend/upload/download. The
// interactive UI is explicitly out of scope (); this
// command exists only to exercise the library end-to-end, following
// os.Args[1]-switch + per-subcommand flag.FlagSet
// dispatch idiom (cmd/shurli/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/lukwies/libretro/internal/config"
)

// osExit is a package variable so tests can intercept process exit.
var osExit = os.Exit

func main() {
	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "register":
		runRegister(os.Args[2:])
	case "login":
		runLogin(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "recv":
		runRecv(os.Args[2:])
	case "add-friend":
		runAddFriend(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "download":
		runDownload(os.Args[2:])
	case "version":
		fmt.Println("retro (client core demo CLI)")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: retro <command> [options]")
	fmt.Println()
	fmt.Println("  register   --name <user> [--config path]       Register a new account")
	fmt.Println("  login      --home <path> [--config path]        Open an existing account")
	fmt.Println("  add-friend --home <path> --id <user-id> --name <n>  Add a friend by user id")
	fmt.Println("  send       --home <path> --to <friend> --text <msg>  Send a chat message")
	fmt.Println("  recv       --home <path> --from <friend>        Show a conversation")
	fmt.Println("  upload     --home <path> --to <friend> --file <path>  Send a file")
	fmt.Println("  download   --home <path> --from <friend> --fileid <id> --out <path>  Fetch a file")
	fmt.Println()
	fmt.Println("All commands except recv and version accept --config <path>; default is <home>/.retro/config.txt")
}

// loadConfig resolves and loads the INI config, installing the
// process-wide slog handler exactly once.
func loadConfig(configFlag string) (*config.Config, error) {
	path := configFlag
	if path == "" {
		path = config.DefaultHome() + "/config.txt"
	}
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.Default()
	}
	config.SetDefaultLogger(cfg)
	return cfg, nil
}
