package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"arena/internal/cli/app"
	"arena/internal/cli/config"
	"arena/internal/cli/event"
	"arena/internal/cli/repl"
	"arena/pkg/utils/logger"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath  = "configs/cli.yaml"
	defaultEnvPath     = ".env"
	defaultHistoryPath = ".arena_history"
)

type options struct {
	configPath string
	envPath    string
	statePath  string
	token      string
	pretty     bool
	noColor    bool
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "arena",
		Short: "Coding arena client",
		Long: `arena submits solutions to the judge, records verdicts and keeps
submission and ranking views current.

Examples:
  arena login alice
  arena submit two-sum Solution.java
  arena rerun two-sum EASY Solution.java python`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "path to config file")
	flags.StringVar(&opts.envPath, "env", defaultEnvPath, "path to .env overrides")
	flags.StringVar(&opts.statePath, "state", "", "override token state path")
	flags.StringVar(&opts.token, "token", "", "use this token for the process only")
	flags.BoolVar(&opts.pretty, "pretty", false, "pretty print JSON responses")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "repl",
			Short: "Start the interactive prompt",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runREPL(cmd.Context(), opts)
			},
		},
		oneShot(opts, "submit <problem> <file> [language]", "Judge a file and save the verdict", cobra.RangeArgs(2, 3)),
		oneShot(opts, "rerun <problem> <level> <file> [language]", "Judge again and save the verdict as a rerun", cobra.RangeArgs(3, 4)),
		oneShot(opts, "login [username] [password]", "Log in and store the token", cobra.MaximumNArgs(2)),
		oneShot(opts, "logout", "Forget the stored token", cobra.NoArgs),
		oneShot(opts, "whoami", "Check the stored token against the auth service", cobra.NoArgs),
	)
	return root
}

// oneShot builds a subcommand that runs a single prompt command and waits
// for the pipelines it started.
func oneShot(opts *options, use, short string, args cobra.PositionalArgs) *cobra.Command {
	name := strings.Fields(use)[0]
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Sync()

			session := repl.New(a, os.Stdout)
			session.SetPrompt(stdinPrompt())
			err = session.Dispatch(ctx, append([]string{name}, args...))
			session.Wait()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			return err
		},
	}
}

func runREPL(ctx context.Context, opts *options) error {
	a, err := buildApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	defer logger.Sync()

	session := repl.New(a, os.Stdout)
	fmt.Fprintln(os.Stdout, "arena client. Type 'help' for commands.")
	return session.Run(ctx, defaultHistoryPath)
}

func buildApp(ctx context.Context, opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return nil, err
	}
	if err := config.LoadEnv(&cfg, opts.envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load env failed: %v\n", err)
		return nil, err
	}
	if opts.statePath != "" {
		cfg.TokenStatePath = opts.statePath
	}
	if opts.pretty {
		pretty := true
		cfg.PrettyJSON = &pretty
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return nil, err
	}

	sinks := []event.Sink{repl.NewPrinter(os.Stdout, opts.noColor)}
	a, err := app.New(ctx, cfg, app.Options{Token: opts.token, Sinks: sinks})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init client failed: %v\n", err)
		return nil, err
	}
	return a, nil
}

func stdinPrompt() func(label string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(label string) (string, error) {
		fmt.Fprintf(os.Stdout, "%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
}
