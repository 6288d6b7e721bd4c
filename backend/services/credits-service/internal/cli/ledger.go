package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"storyforge/backend/services/credits-service/internal/ledger"
)

func newSweepCommand(opts *options) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release reservations left open by crashed callers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, store, err := opts.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			res, err := l.ReleaseStale(cmd.Context(), olderThan, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "Minimum reservation age")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum reservations to release")
	return cmd
}

func newAdjustCommand(opts *options) *cobra.Command {
	var (
		userID    string
		amount    int64
		reason    string
		requestID string
		actor     string
	)
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Add or remove bonus credits for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = os.Getenv("USER")
			}
			if actor == "" {
				return errors.New("creditsctl: --actor required")
			}
			l, store, err := opts.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			res, err := l.AdminAdjustBonus(cmd.Context(), ledger.AdjustRequest{
				Actor:     ledger.Actor{ID: "cli:" + actor, Admin: true},
				UserID:    userID,
				Amount:    amount,
				Reason:    reason,
				RequestID: requestID,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Credits to add (negative to remove)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the ledger entry")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Optional UUID making the adjustment idempotent")
	cmd.Flags().StringVar(&actor, "actor", "", "Operator name (defaults to $USER)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	var (
		userID  string
		history int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's balance and recent transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, store, err := opts.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			status, err := l.Status(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := map[string]interface{}{"status": status}
			if history > 0 {
				txs, err := l.Transactions(cmd.Context(), userID, history)
				if err != nil {
					return err
				}
				out["transactions"] = txs
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().IntVar(&history, "history", 0, "Number of recent transactions to include")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
