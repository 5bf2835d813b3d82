package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beeper/helper-bot/pkg/bot"
	"github.com/beeper/helper-bot/pkg/config"
)

// Information to find out exactly which commit the bot was built from.
// These are filled at build time with the -X linker flag.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	noUpdate   bool
)

var rootCmd = &cobra.Command{
	Use:           "helper-bot",
	Short:         "A Matrix room assistant with role management and OpenAI delegation",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVar(&noUpdate, "no-update", false, "don't write the upgraded config back to disk")
	rootCmd.AddCommand(generateConfigCmd(), versionCmd())
}

func generateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Write the example config to the config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(configPath, []byte(config.ExampleConfig), 0600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote example config to %s\n", configPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("helper-bot %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath, !noUpdate)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Str("built_at", BuildTime).Msg("Initializing helper-bot")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bot.New(ctx, cfg, *log)
	if err != nil {
		return err
	}
	defer b.Close()
	if err = b.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
