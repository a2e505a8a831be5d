package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/config"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/server"
)

// exitError carries a command's exit code out of RunE
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "termblocks",
		Short:         "Shell sessions as command blocks",
		Long:          "termblocks drives a shell on a pseudo-terminal and splits its output into one block per command.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())

	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := server.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("port", "", "Server port (overrides TERMBLOCKS_SERVER_PORT)")
	cmd.Flags().String("host", "", "Bind address (overrides TERMBLOCKS_SERVER_HOST)")
	addCommonFlags(cmd)
	return cmd
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command>...",
		Short: "Run commands in a fresh shell and print their blocks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return runCommands(ctx, cmd, cfg, args, asJSON)
		},
	}

	cmd.Flags().Bool("json", false, "Print finished blocks as JSON")
	cmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")
	addCommonFlags(cmd)
	return cmd
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("shell", "", "Shell program (overrides TERMBLOCKS_SHELL_PROGRAM)")
	cmd.Flags().String("workdir", "", "Initial working directory")
	cmd.Flags().String("patterns", "", "Prompt and error pattern file (.yaml, .toml or .json)")
	cmd.Flags().Bool("dev", false, "Development logging")
}

// loadConfig reads the environment and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"port":     &cfg.Server.Port,
		"host":     &cfg.Server.Host,
		"shell":    &cfg.Shell.Program,
		"workdir":  &cfg.Shell.WorkingDir,
		"patterns": &cfg.Pipeline.PatternFile,
	}
	for name, target := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*target = f.Value.String()
		}
	}
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func runCommands(ctx context.Context, cmd *cobra.Command, cfg *config.Config, commands []string, asJSON bool) error {
	logger, err := server.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()
	defer metrics.Close()

	sessions, err := server.NewSessions(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer sessions.Close()

	s, err := sessions.Create(shell.CreateRequest{})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	observer := s.ObserveBlocks()
	defer observer.Close()

	var ids []string
	for _, command := range commands {
		b, err := s.Submit(ctx, command, "")
		if err != nil && b.ID == "" {
			return err
		}
		ids = append(ids, b.ID.String())
	}

	finished, err := waitFinished(ctx, observer, ids)
	if err != nil {
		return err
	}

	code := 0
	out := cmd.OutOrStdout()
	for _, b := range finished {
		if asJSON {
			data, err := sonic.Marshal(b)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintf(out, "$ %s\n%s", b.Command, b.Output)
			if b.Diagnostic != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "termblocks: %s\n", b.Diagnostic)
			}
		}
		if b.ExitCode != nil && *b.ExitCode != 0 {
			code = *b.ExitCode
		} else if b.Status != block.StatusSuccess && code == 0 {
			code = 1
		}
	}

	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// waitFinished blocks until every block in ids is terminal and returns
// them in submission order
func waitFinished(ctx context.Context, observer *block.Observer, ids []string) ([]block.Block, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case blocks, ok := <-observer.C():
			if !ok {
				return nil, errors.New("shell closed")
			}
			if done, all := collect(blocks, ids); all {
				return done, nil
			}
		}
	}
}

func collect(blocks []block.Block, ids []string) ([]block.Block, bool) {
	byID := make(map[string]block.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID.String()] = b
	}

	out := make([]block.Block, 0, len(ids))
	for _, want := range ids {
		b, ok := byID[want]
		if !ok || !b.Status.IsTerminal() {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}
