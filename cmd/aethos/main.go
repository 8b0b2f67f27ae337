// ABOUTME: aethos CLI: encrypted provider credentials and streaming chat from the terminal
// ABOUTME: Dispatches subcommands onto internal/app operations

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/aethos/internal/app"
	"github.com/2389/aethos/internal/config"
)

const banner = `
            _   _
  __ _  ___| |_| |__   ___  ___
 / _' |/ _ \ __| '_ \ / _ \/ __|
| (_| |  __/ |_| | | | (_) \__ \
 \__,_|\___|\__|_| |_|\___/|___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit(ctx)
	case "key":
		err = cmdKey(ctx, args)
	case "settings":
		err = withApp(ctx, func(a *app.App) error { return cmdSettings(ctx, a, args) })
	case "prefs":
		err = withApp(ctx, func(a *app.App) error { return cmdPrefs(ctx, a, args) })
	case "providers":
		err = withApp(ctx, func(a *app.App) error { return cmdProviders(ctx, a, args) })
	case "conversations", "conv":
		err = withApp(ctx, func(a *app.App) error { return cmdConversations(ctx, a, args) })
	case "ask":
		err = withApp(ctx, func(a *app.App) error { return cmdAsk(ctx, a, args) })
	case "chat":
		err = withApp(ctx, func(a *app.App) error { return cmdChat(ctx, a, args) })
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: aethos <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  init                                  Write a default config and create the master key")
	fmt.Println("  key status                            Show where the master key is kept")
	fmt.Println("  settings get <key>                    Read a setting")
	fmt.Println("  settings set <key> <value> [--secret] Write a setting (encrypted with --secret)")
	fmt.Println("  prefs get                             Show UI preferences")
	fmt.Println("  prefs set [--language L] [--theme T] [--system-prompt P]")
	fmt.Println("  providers list                        List provider credentials")
	fmt.Println("  providers add <provider> [--name N] [--model M] [--default]")
	fmt.Println("  providers default <provider>          Make a provider the default")
	fmt.Println("  providers remove <provider>           Delete a provider credential")
	fmt.Println("  conversations list                    List conversations")
	fmt.Println("  conversations new [title]             Create a conversation")
	fmt.Println("  conversations rename <id> <title>     Rename a conversation")
	fmt.Println("  conversations pin|unpin <id>          Pin or unpin a conversation")
	fmt.Println("  conversations delete <id>             Delete a conversation and its messages")
	fmt.Println("  conversations messages <id> [--limit N]")
	fmt.Println("  ask [--model M] <prompt>              One-shot question, nothing is saved")
	fmt.Println("  chat [--conversation ID] [--model M] <prompt>")
	fmt.Println("                                        Stream a reply into a conversation")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  AETHOS_CONFIG    Config file path (default: ~/.config/aethos/config.yaml)")
	fmt.Println("  AETHOS_API_KEY   API key for 'providers add' when stdin is not a terminal")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  aethos init")
	fmt.Println("  aethos providers add openai --model gpt-4o-mini")
	fmt.Println("  aethos chat 'Plan a weekend in Lisbon'")
	fmt.Println()
}

// getConfigPath returns the config file path.
func getConfigPath() string {
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// withApp builds the app for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
