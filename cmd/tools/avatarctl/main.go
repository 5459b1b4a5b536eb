// Command avatarctl inspects and maintains the persisted Astra records and
// probes the speech synthesis backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/astra/backend/internal/config"
	"github.com/zhouzirui/astra/backend/internal/logging"
	"github.com/zhouzirui/astra/backend/internal/storage"
)

// app carries the dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	verbose bool
	// openRepository is swapped in tests.
	openRepository func(ctx context.Context, cfg *config.Config) (*storage.Repository, func(), error)
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(&app{openRepository: openRepository}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "avatarctl",
		Short: "Inspect and maintain Astra's persisted state",
		Long: `avatarctl reads and edits the records the Astra engine persists
(conversation history, voice and roleplay settings, learned memories)
using the same storage backend the engine is configured with.

Examples:
  avatarctl memory list
  avatarctl history show --limit 10
  avatarctl tts probe --voice Neuro --text "Hello there" --out hello.pcm`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg != nil {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(newMemoryCmd(a), newHistoryCmd(a), newSettingsCmd(a), newTTSCmd(a))
	return root
}

func openRepository(ctx context.Context, cfg *config.Config) (*storage.Repository, func(), error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	closeFn := func() {}
	if closer, ok := store.(interface{ Close() error }); ok {
		closeFn = func() { _ = closer.Close() }
	}

	logger := logging.New(logging.Config{Level: "error", Format: "console"})
	return storage.NewRepository(store, logger), closeFn, nil
}

// repository opens the configured store for one command invocation.
func (a *app) repository(cmd *cobra.Command) (*storage.Repository, func(), error) {
	return a.openRepository(cmd.Context(), a.cfg)
}
