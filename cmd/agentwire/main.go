// Command agentwire is a terminal client for agent servers: it spawns or
// attaches to a server, opens a session, and relays prompts and streamed
// replies.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmora/agentwire"
	"github.com/dmora/agentwire/filter"
)

var (
	configPath string
	executable string
	remote     string
	transport  string
	model      string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentwire",
	Short: "Terminal client for agent servers",
	Long: `Agentwire supervises an agent server process (or attaches to a
running one) and multiplexes conversational sessions over a single
JSON-RPC connection.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to config file (default: ~/.agentwire.yaml)")
	pf.StringVar(&executable, "executable", "", "Agent server executable to spawn")
	pf.StringVar(&remote, "remote", "", "Attach to a running server (PORT, HOST:PORT, or http(s)://HOST:PORT)")
	pf.StringVar(&transport, "transport", "", "Transport for a spawned server (stdio or tcp)")
	pf.StringVar(&model, "model", "", "Model for new sessions")
	pf.DurationVar(&timeout, "timeout", 2*time.Minute, "Per-turn timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(pingCmd, chatCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient builds a client from the merged config file and flags.
func newClient() (*agentwire.Client, *fileConfig, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.applyFlags()

	opts := []agentwire.Option{
		agentwire.WithLogger(newLogger()),
	}
	if cfg.Remote != "" {
		opts = append(opts, agentwire.WithRemoteTarget(cfg.Remote))
	} else {
		if cfg.Executable != "" {
			opts = append(opts, agentwire.WithExecutable(cfg.Executable))
		}
		if len(cfg.Args) > 0 {
			opts = append(opts, agentwire.WithArgs(cfg.Args...))
		}
		if cfg.Transport != "" {
			opts = append(opts, agentwire.WithTransportMode(agentwire.TransportMode(cfg.Transport)))
		}
	}

	c, err := agentwire.NewClient(opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity to the agent server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := c.Start(ctx); err != nil {
			return err
		}
		defer c.Stop(ctx)

		start := time.Now()
		if err := c.Ping(ctx, "agentwire ping"); err != nil {
			return err
		}
		fmt.Printf("pong (%s, %s)\n", c.Target().Mode, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a single prompt and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		defer c.Stop(context.WithoutCancel(ctx))

		s, err := c.CreateSession(ctx, &agentwire.SessionConfig{Model: cfg.Model})
		if err != nil {
			return err
		}

		ev, err := s.SendAndWait(ctx, agentwire.MessageOptions{
			Prompt:  args[0],
			Timeout: timeout,
		})
		if err != nil {
			return err
		}
		if ev == nil {
			fmt.Fprintln(os.Stderr, "(no reply)")
			return nil
		}
		fmt.Println(ev.Data.Content)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		defer c.Stop(context.WithoutCancel(ctx))

		s, err := c.CreateSession(ctx, &agentwire.SessionConfig{Model: cfg.Model})
		if err != nil {
			return err
		}
		defer s.Destroy(context.WithoutCancel(ctx))

		s.On(filter.Types(func(ev agentwire.SessionEvent) {
			fmt.Print(ev.Data.Content)
		}, agentwire.EventAssistantMessageDelta))
		s.On(filter.Errors(func(ev agentwire.SessionEvent) {
			fmt.Fprintf(os.Stderr, "\nsession error: %s\n", ev.Data.Error)
		}))

		fmt.Printf("session %s — empty line or Ctrl-D to exit\n", s.ID)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			prompt := strings.TrimSpace(scanner.Text())
			if prompt == "" {
				break
			}

			ev, err := s.SendAndWait(ctx, agentwire.MessageOptions{
				Prompt:  prompt,
				Timeout: timeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			// Deltas already streamed; print the final text only if no
			// deltas arrived.
			if ev != nil && ev.Data.Content != "" {
				fmt.Println()
			}
		}
		return scanner.Err()
	},
}
