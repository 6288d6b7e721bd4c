package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storyforge/backend/libs/logging"
	"storyforge/backend/services/credits-service/internal/app"
	"storyforge/backend/services/credits-service/internal/config"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/repository"
)

type options struct {
	verbose bool
}

// NewRootCommand builds the creditsctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "creditsctl",
		Short:         "Operate the credits ledger",
		Long:          "Operator tooling for the credits ledger. Storage settings are read the same way credits-service reads them (CONFIG_FILE, .env, CREDITS_* variables).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Write service logs to stdout")

	root.AddCommand(
		newMigrateCommand(),
		newSweepCommand(opts),
		newAdjustCommand(opts),
		newStatusCommand(opts),
		newTokenCommand(),
		newHashKeyCommand(),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *options) logger() (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return logging.NewLogger("creditsctl")
}

// openLedger loads service configuration and opens a ledger over the
// configured store without migrating it.
func (o *options) openLedger(ctx context.Context) (*ledger.Ledger, repository.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(ctx, cfg, false, logger)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.New(store, logger, app.LedgerOptions(cfg))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return l, store, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("creditsctl: encode output: %w", err)
	}
	return nil
}
