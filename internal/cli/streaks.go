package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sheetbot-go/internal/app"
	"sheetbot-go/internal/clock"
	"sheetbot-go/internal/streak"
)

// streakOptions holds flags for the top command.
type streakOptions struct {
	*RootOptions
	Limit int
}

// NewTopCommand creates the top command.
func NewTopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &streakOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the streak leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStreaks(cmd, opts.RootOptions, func(svc *streak.Service) error {
				top, err := svc.Top(cmd.Context(), opts.Limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), app.FormatTop(top))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", streak.DefaultTopLimit, "number of entries to show")

	return cmd
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user id>",
		Short: "Reset a member's streak to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStreaks(cmd, rootOpts, func(svc *streak.Service) error {
				found, err := svc.Reset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(cmd.OutOrStdout(), "Could not find entry for %s.\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset streak for %s.\n", args[0])
				return nil
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user id>",
		Short: "Print one member's streak row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStreaks(cmd, rootOpts, func(svc *streak.Service) error {
				rec, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rec == nil {
					fmt.Fprintf(out, "Could not find entry for %s.\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "%s (%s): %d days, last active %s, last announced %s\n",
					rec.UserID, rec.Name, rec.Count, orNever(rec.LastActive), orNever(rec.ShownDate))
				return nil
			})
		},
	}
}

func orNever(d clock.Date) string {
	if d.IsZero() {
		return "never"
	}
	return d.String()
}

// withStreaks opens the row store without connecting to the chat
// platform and runs fn against a streak service.
func withStreaks(cmd *cobra.Command, opts *RootOptions, fn func(svc *streak.Service) error) error {
	cfg, logger, closer, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	store, db, err := app.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	clk := clock.NewFixedOffset(cfg.Scheduler.TimezoneOffset)
	return fn(streak.NewService(store, clk, logger.WithPrefix("streak")))
}
