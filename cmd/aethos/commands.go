// ABOUTME: Subcommand handlers for the aethos CLI
// ABOUTME: Parses arguments, calls internal/app, and prints tables or streamed replies

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/aethos/internal/app"
	"github.com/2389/aethos/internal/config"
	"github.com/2389/aethos/internal/relay"
	"github.com/2389/aethos/internal/store"
)

// cmdInit writes a default config when none exists and resolves the key.
func cmdInit(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := config.Write(path, cfg); err != nil {
			return err
		}
		green.Print("    ▶ ")
		fmt.Printf("Wrote config:  %s\n", path)
	} else {
		green.Print("    ▶ ")
		fmt.Printf("Config:        %s\n", path)
	}

	a, err := app.New(ctx, cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer a.Close()

	green.Print("    ▶ ")
	fmt.Printf("Database:      %s\n", cfg.Data.DatabasePath)
	green.Print("    ▶ ")
	fmt.Printf("Master key:    %s\n", a.KeySource())
	fmt.Println()
	return nil
}

func cmdKey(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "status" {
		return fmt.Errorf("usage: key status")
	}
	return withApp(ctx, func(a *app.App) error {
		cfg := a.Config()
		cyan := color.New(color.FgCyan)

		fmt.Println()
		cyan.Println("  Master Key")
		cyan.Println("  ----------")
		fmt.Printf("  Source:     %s\n", a.KeySource())
		if cfg.Keyring.IsEnabled() {
			fmt.Printf("  Keyring:    %s / %s\n", cfg.Keyring.Service, cfg.Keyring.Account)
		} else {
			fmt.Printf("  Keyring:    (disabled)\n")
		}
		fmt.Printf("  Key file:   %s\n", cfg.Data.KeyFile)
		fmt.Println()
		return nil
	})
}

func cmdSettings(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: settings get <key> | settings set <key> <value> [--secret]")
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: settings get <key>")
		}
		got, err := a.GetSetting(ctx, args[1])
		if err != nil {
			return err
		}
		if !got.Found {
			return fmt.Errorf("setting %q is not set", args[1])
		}
		fmt.Println(got.Value)
		return nil

	case "set":
		var secret bool
		var positional []string
		for _, arg := range args[1:] {
			if arg == "--secret" || arg == "-s" {
				secret = true
				continue
			}
			positional = append(positional, arg)
		}
		if len(positional) != 2 {
			return fmt.Errorf("usage: settings set <key> <value> [--secret]")
		}
		if err := a.SetSetting(ctx, app.SetSettingInput{Key: positional[0], Value: positional[1], IsSecret: secret}); err != nil {
			return err
		}
		color.Green("Saved %s", positional[0])
		return nil
	}
	return fmt.Errorf("unknown settings command: %s", args[0])
}

func cmdPrefs(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 || args[0] == "get" {
		prefs, err := a.GetPreferences(ctx)
		if err != nil {
			return err
		}
		printPrefs(prefs)
		return nil
	}
	if args[0] != "set" {
		return fmt.Errorf("usage: prefs get | prefs set [--language L] [--theme T] [--system-prompt P]")
	}

	var update store.Preferences
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		if i+1 >= len(rest) {
			return fmt.Errorf("missing value for %s", rest[i])
		}
		value := rest[i+1]
		switch rest[i] {
		case "--language", "-l":
			update.Language = &value
		case "--theme", "-t":
			update.Theme = &value
		case "--system-prompt", "-p":
			update.SystemPrompt = &value
		default:
			return fmt.Errorf("unknown flag: %s", rest[i])
		}
		i++
	}

	prefs, err := a.SavePreferences(ctx, update)
	if err != nil {
		return err
	}
	printPrefs(prefs)
	return nil
}

func printPrefs(p *store.Preferences) {
	show := func(v *string) string {
		if v == nil {
			return "(unset)"
		}
		return *v
	}
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Preferences")
	cyan.Println("  -----------")
	fmt.Printf("  Language:       %s\n", show(p.Language))
	fmt.Printf("  Theme:          %s\n", show(p.Theme))
	fmt.Printf("  System prompt:  %s\n", show(p.SystemPrompt))
	fmt.Println()
}

func cmdProviders(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return listProviders(ctx, a)
	}

	switch args[0] {
	case "add":
		return addProvider(ctx, a, args[1:])
	case "default":
		if len(args) < 2 {
			return fmt.Errorf("usage: providers default <provider>")
		}
		if err := a.SetDefaultProvider(ctx, args[1]); err != nil {
			return err
		}
		color.Green("Default provider is now %s", args[1])
		return nil
	case "remove", "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: providers remove <provider>")
		}
		if err := a.DeleteProvider(ctx, args[1]); err != nil {
			return err
		}
		color.Green("Removed %s", args[1])
		return nil
	}
	return fmt.Errorf("unknown providers command: %s", args[0])
}

func listProviders(ctx context.Context, a *app.App) error {
	providers, err := a.ListProviders(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Providers")
	cyan.Println("  ---------")

	if len(providers) == 0 {
		fmt.Println("  (no providers, add one with: aethos providers add openai)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROVIDER\tNAME\tMODEL\tDEFAULT\tUPDATED")
	fmt.Fprintln(w, "  --------\t----\t-----\t-------\t-------")
	for _, p := range providers {
		def := ""
		if p.IsDefault {
			def = "*"
		}
		model := p.DefaultModel
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", p.Provider, p.DisplayName, model, def, p.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func addProvider(ctx context.Context, a *app.App, args []string) error {
	var in app.UpsertProviderInput
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				in.DisplayName = args[i+1]
				i++
			}
		case "--model", "-m":
			if i+1 < len(args) {
				in.DefaultModel = args[i+1]
				i++
			}
		case "--default", "-d":
			in.MakeDefault = true
		default:
			if in.Provider != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			in.Provider = args[i]
		}
	}
	if in.Provider == "" {
		return fmt.Errorf("usage: providers add <provider> [--name N] [--model M] [--default]")
	}

	key, err := readAPIKey(in.Provider)
	if err != nil {
		return err
	}
	in.APIKey = key

	summary, err := a.UpsertProvider(ctx, in)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Saved %s", summary.DisplayName)
	if summary.IsDefault {
		msg += " (default)"
	}
	color.Green("%s", msg)
	return nil
}

// readAPIKey prompts without echo on a terminal, otherwise reads
// AETHOS_API_KEY or one line of stdin. An empty key keeps a stored one.
func readAPIKey(provider string) (string, error) {
	if key := os.Getenv("AETHOS_API_KEY"); key != "" {
		return key, nil
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Printf("API key for %s (leave empty to keep the current one): ", provider)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}

func cmdConversations(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return listConversations(ctx, a)
	}

	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: conversations %s", usage)
		}
		return nil
	}

	switch args[0] {
	case "new":
		conv, err := a.CreateConversation(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Println(conv.ID)
		return nil
	case "rename":
		if err := need(3, "rename <id> <title>"); err != nil {
			return err
		}
		conv, err := a.RenameConversation(ctx, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		color.Green("Renamed to %q", conv.Title)
		return nil
	case "pin", "unpin":
		if err := need(2, args[0]+" <id>"); err != nil {
			return err
		}
		if _, err := a.PinConversation(ctx, args[1], args[0] == "pin"); err != nil {
			return err
		}
		color.Green("%sned %s", strings.ToUpper(args[0][:1])+args[0][1:], args[1])
		return nil
	case "delete":
		if err := need(2, "delete <id>"); err != nil {
			return err
		}
		if err := a.DeleteConversation(ctx, args[1]); err != nil {
			return err
		}
		color.Green("Deleted %s", args[1])
		return nil
	case "messages":
		if err := need(2, "messages <id> [--limit N]"); err != nil {
			return err
		}
		limit := 0
		if len(args) >= 4 && (args[2] == "--limit" || args[2] == "-n") {
			n, err := strconv.Atoi(args[3])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid limit: %s", args[3])
			}
			limit = n
		}
		return printMessages(ctx, a, args[1], limit)
	}
	return fmt.Errorf("unknown conversations command: %s", args[0])
}

func listConversations(ctx context.Context, a *app.App) error {
	convs, err := a.ListConversations(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Conversations")
	cyan.Println("  -------------")

	if len(convs) == 0 {
		fmt.Println("  (no conversations)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tPIN\tACTIVITY\tPREVIEW")
	fmt.Fprintln(w, "  --\t-----\t---\t--------\t-------")
	for _, c := range convs {
		pin := ""
		if c.Pinned {
			pin = "*"
		}
		preview := strings.ReplaceAll(c.LastMessagePreview, "\n", " ")
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			c.ID, truncate(c.Title, 32), pin, c.LastActivity().Local().Format("Jan 02 15:04"), truncate(preview, 40))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func printMessages(ctx context.Context, a *app.App, id string, limit int) error {
	msgs, err := a.GetConversationMessages(ctx, id, limit)
	if err != nil {
		return err
	}

	user := color.New(color.FgGreen, color.Bold)
	assistant := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	for _, m := range msgs {
		if m.Role == store.RoleUser {
			user.Print("you")
		} else {
			assistant.Print("assistant")
		}
		gray.Printf("  %s\n", m.CreatedAt.Local().Format(time.DateTime))
		fmt.Println(m.Content)
		fmt.Println()
	}
	return nil
}

// parseChatArgs pulls --conversation and --model out of args and joins the
// rest into the prompt.
func parseChatArgs(args []string) (app.ChatInput, error) {
	var in app.ChatInput
	var words []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--conversation", "-c":
			if i+1 >= len(args) {
				return in, fmt.Errorf("missing value for %s", args[i])
			}
			in.ConversationID = args[i+1]
			i++
		case "--model", "-m":
			if i+1 >= len(args) {
				return in, fmt.Errorf("missing value for %s", args[i])
			}
			in.Model = args[i+1]
			i++
		default:
			words = append(words, args[i])
		}
	}
	in.Prompt = strings.TrimSpace(strings.Join(words, " "))
	if in.Prompt == "" {
		return in, fmt.Errorf("a prompt is required")
	}
	return in, nil
}

func cmdAsk(ctx context.Context, a *app.App, args []string) error {
	in, err := parseChatArgs(args)
	if err != nil {
		return err
	}
	resp, err := a.InvokeChat(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println(resp.Reply)
	return nil
}

// cmdChat streams a reply, printing deltas as they arrive.
func cmdChat(ctx context.Context, a *app.App, args []string) error {
	in, err := parseChatArgs(args)
	if err != nil {
		return err
	}

	if in.ConversationID == "" {
		conv, err := a.CreateConversation(ctx, "")
		if err != nil {
			return err
		}
		in.ConversationID = conv.ID
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, _ := a.Events().Subscribe(subCtx, in.ConversationID)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		gray := color.New(color.FgHiBlack)
		for ev := range events {
			switch p := ev.Payload.(type) {
			case relay.ChunkEvent:
				if p.Done {
					fmt.Println()
					continue
				}
				fmt.Print(p.Delta)
			case relay.TitleEvent:
				gray.Printf("── %s\n", p.Title)
			}
		}
	}()

	res, err := a.StreamChat(ctx, in)
	cancel()
	<-printed

	if res != nil && res.TitleError != "" {
		color.Yellow("Warning: %s", res.TitleError)
	}
	if err != nil {
		return err
	}
	color.New(color.FgHiBlack).Printf("conversation %s · %s\n", res.ConversationID, res.Model)
	return nil
}

// truncate shortens a string to maxLen runes with ellipsis.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
