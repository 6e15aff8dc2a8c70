package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loykin/botkeeper/internal/config"
	"github.com/loykin/botkeeper/pkg/client"
	"github.com/spf13/cobra"
)

// command carries the global flags into every client-side subcommand.
type command struct {
	flags *GlobalFlags
}

// client returns a daemon client for --api-url, or for the URL derived from
// the settings file when the flag is empty.
func (c command) client() (*client.Client, error) {
	url := c.flags.APIUrl
	if url == "" {
		s, err := config.Load(c.flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		url = apiURLFromSettings(s)
	}
	return client.New(client.Config{BaseURL: url, Timeout: c.flags.APITimeout}), nil
}

// messageCommand builds a subcommand whose daemon call answers with a message.
func messageCommand(c command, use, short string, call func(*client.Client, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			msg, err := call(cl, cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), client.MessageResponse{Message: msg})
			return nil
		},
	}
}

// valueCommand builds a subcommand that prints the decoded daemon answer.
func valueCommand[T any](c command, use, short string, call func(*client.Client, context.Context) (T, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			v, err := call(cl, cmd.Context())
			if err != nil {
				return err
			}
			if raw, ok := any(v).(json.RawMessage); ok {
				printRaw(cmd.OutOrStdout(), raw)
				return nil
			}
			printJSON(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func createStartCommand(c command) *cobra.Command {
	cmd := messageCommand(c, "start", "Start the bot", (*client.Client).Start)
	cmd.Long = `Start the bot worker. Installs its dependencies first when they are missing.`
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	return messageCommand(c, "stop", "Stop the bot and its child processes", (*client.Client).Stop)
}

func createRestartCommand(c command) *cobra.Command {
	return messageCommand(c, "restart", "Stop the bot if running, then start it again", (*client.Client).Restart)
}

func createCleanupCommand(c command) *cobra.Command {
	return messageCommand(c, "cleanup", "Kill whatever holds the bot's control port", (*client.Client).Cleanup)
}

func createInstallCommand(c command) *cobra.Command {
	return messageCommand(c, "install", "Install the bot's npm dependencies", (*client.Client).Install)
}

func createStatusCommand(c command) *cobra.Command {
	return valueCommand(c, "status", "Show whether the bot runs, its pid and uptime", (*client.Client).Status)
}

func createStatsCommand(c command) *cobra.Command {
	return valueCommand(c, "stats", "Show hosting statistics", (*client.Client).Stats)
}

func createResourcesCommand(c command) *cobra.Command {
	return valueCommand(c, "resources", "Show sampled CPU and memory usage of the bot", (*client.Client).Resources)
}

func createSetupCommand(c command) *cobra.Command {
	return valueCommand(c, "setup", "Show the first-run setup checklist", (*client.Client).Setup)
}

func createNodeVersionCommand(c command) *cobra.Command {
	return valueCommand(c, "node-version", "Show the installed Node.js version", (*client.Client).NodeVersion)
}

func createClearDataCommand(c command) *cobra.Command {
	return valueCommand(c, "clear-data", "Delete stored configs, settings and logs", (*client.Client).ClearData)
}

func createHistoryCommand(c command) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent bot lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			evs, err := cl.History(cmd.Context(), flags.Limit)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), evs)
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum number of events")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	flags := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last 200 lines of the bot log",
		Long: `Print the last 200 lines of the bot log.

Examples:
  botkeeper logs            # Print the tail
  botkeeper logs --follow   # Keep printing new lines until interrupted
  botkeeper logs --clear    # Truncate the log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.Follow && flags.Clear {
				return fmt.Errorf("--follow and --clear are mutually exclusive")
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case flags.Clear:
				msg, err := cl.ClearLogs(cmd.Context())
				if err != nil {
					return err
				}
				printJSON(out, client.MessageResponse{Message: msg})
				return nil
			case flags.Follow:
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return cl.FollowLogs(ctx, func(line string) { _, _ = fmt.Fprintln(out, line) })
			}
			logs, err := cl.Logs(cmd.Context())
			if err != nil {
				return err
			}
			if logs != "" {
				_, _ = fmt.Fprintln(out, logs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.Follow, "follow", "f", false, "stream new log lines")
	cmd.Flags().BoolVar(&flags.Clear, "clear", false, "truncate the log")
	return cmd
}

func createConfigCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the bot configuration",
	}
	cmd.AddCommand(
		valueCommand(c, "get", "Print the bot configuration", (*client.Client).GetConfig),
		valueCommand(c, "location", "Print the folder holding the configuration", (*client.Client).ConfigLocation),
		createConfigSetCommand(c),
		createConfigStatusCommand(c),
	)
	return cmd
}

func createConfigSetCommand(c command) *cobra.Command {
	flags := &ConfigSetFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change fields of the bot configuration",
		Long: `Change fields of the bot configuration. Fields not given keep their value.

Examples:
  botkeeper config set --token=MTE... --client-id=1190558638067163226
  botkeeper config set --prefix='?'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			cfg, err := cl.GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			applyConfigFlags(cmd, flags, &cfg)
			msg, err := cl.SetConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), client.MessageResponse{Message: msg})
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Token, "token", "", "bot token")
	cmd.Flags().StringVar(&flags.ClientID, "client-id", "", "application client id")
	cmd.Flags().StringVar(&flags.GuildID, "guild-id", "", "default guild id")
	cmd.Flags().StringVar(&flags.Prefix, "prefix", "", "command prefix")
	return cmd
}

// applyConfigFlags overwrites the fields whose flags were set explicitly.
func applyConfigFlags(cmd *cobra.Command, flags *ConfigSetFlags, cfg *client.BotConfig) {
	if cmd.Flags().Changed("token") {
		cfg.Token = flags.Token
	}
	if cmd.Flags().Changed("client-id") {
		cfg.ClientID = flags.ClientID
	}
	if cmd.Flags().Changed("guild-id") {
		cfg.GuildID = flags.GuildID
	}
	if cmd.Flags().Changed("prefix") {
		cfg.Prefix = flags.Prefix
	}
}

func createConfigStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <json|@file>",
		Short: "Store the bot's status rotation config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArgOrFile(args[0])
			if err != nil {
				return err
			}
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("status config must be valid JSON")
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			msg, err := cl.SetStatusConfig(cmd.Context(), raw)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), client.MessageResponse{Message: msg})
			return nil
		},
	}
}

// readArgOrFile returns arg, or the contents of the file when arg is "@path".
func readArgOrFile(arg string) (string, error) {
	path, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return arg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func createWorkerCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Talk to the running bot's control API",
		Long: `Talk to the running bot's control API through the daemon.

Examples:
  botkeeper worker ping
  botkeeper worker servers
  botkeeper worker switch-server 123456789012345678
  botkeeper worker action announce --params '{"channel":"1","text":"hi"}'
  botkeeper worker quick-action kick --target 42 --value spam`,
	}
	for _, op := range []string{"ping", "status", "data", "servers"} {
		cmd.AddCommand(createWorkerQueryCommand(c, op))
	}
	cmd.AddCommand(
		createSwitchServerCommand(c),
		createActionCommand(c),
		createControlCommand(c),
		createQuickActionCommand(c),
	)
	return cmd
}

func createWorkerQueryCommand(c command, op string) *cobra.Command {
	return valueCommand(c, op, "Query the bot's "+op+" endpoint", func(cl *client.Client, ctx context.Context) (json.RawMessage, error) {
		return cl.WorkerQuery(ctx, op)
	})
}

func createSwitchServerCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-server <guild_id>",
		Short: "Make the bot manage another guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			raw, err := cl.SwitchServer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRaw(cmd.OutOrStdout(), raw)
			return nil
		},
	}
}

func createActionCommand(c command) *cobra.Command {
	flags := &ActionFlags{}
	cmd := &cobra.Command{
		Use:   "action <name>",
		Short: "Run a bot action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.ActionRequest{Action: args[0]}
			if flags.Params != "" {
				raw, err := readArgOrFile(flags.Params)
				if err != nil {
					return err
				}
				if json.Valid([]byte(raw)) {
					req.Params = json.RawMessage(raw)
				} else {
					b, _ := json.Marshal(raw)
					req.Params = b
				}
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			out, err := cl.Action(cmd.Context(), req)
			if err != nil {
				return err
			}
			printRaw(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Params, "params", "", "action parameters: JSON, plain text or @file")
	return cmd
}

func createControlCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "control <command>",
		Short: "Send a control command to the bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			out, err := cl.Control(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRaw(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func createQuickActionCommand(c command) *cobra.Command {
	flags := &QuickActionFlags{}
	cmd := &cobra.Command{
		Use:   "quick-action <action>",
		Short: "Run a quick moderation action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			out, err := cl.QuickAction(cmd.Context(), client.QuickActionRequest{Action: args[0], Target: flags.Target, Value: flags.Value})
			if err != nil {
				return err
			}
			printRaw(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Target, "target", "", "target user or channel id")
	cmd.Flags().StringVar(&flags.Value, "value", "", "action value")
	return cmd
}
