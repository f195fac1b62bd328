package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/prn-tf/sendme/internal/lock"
	"github.com/prn-tf/sendme/internal/repository"
)

var (
	reconcileAll bool
	purgeDryRun  bool
)

func newQuotaCmd() *cobra.Command {
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Quota maintenance",
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile [username]",
		Short: "Recompute used quota from stored messages",
		Long: `Recompute used_quota_bytes from the sizes of every message that has not
been hard-deleted, correcting drift left by interrupted operations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withEnv(runQuotaReconcile),
	}
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every user")
	quotaCmd.AddCommand(reconcileCmd)

	return quotaCmd
}

func runQuotaReconcile(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 && !reconcileAll {
		return fmt.Errorf("pass a username or --all")
	}

	var ids []int64
	if len(args) == 1 {
		user, err := e.db.User.GetByUsername(ctx, args[0])
		if err != nil {
			return err
		}
		ids = append(ids, user.ID)
	} else {
		for offset := 0; ; {
			page, err := e.db.User.List(ctx, repository.ListOptions{Limit: 1000, Offset: offset})
			if err != nil {
				return err
			}
			for _, u := range page.Items {
				ids = append(ids, u.ID)
			}
			offset += len(page.Items)
			if len(page.Items) == 0 || int64(offset) >= page.Total {
				break
			}
		}
	}

	drifted := 0
	for _, id := range ids {
		err := lock.Run(ctx, e.coord.Locker, lock.Keys.QuotaReconcile(id), time.Minute, func(ctx context.Context) error {
			result, err := e.services.Ledger.Reconcile(ctx, id, e.db.Message)
			if err != nil {
				return err
			}
			if result.Drift() != 0 {
				drifted++
				fmt.Printf("user %d: %s -> %s (drift %+d bytes)\n", id,
					humanize.IBytes(uint64(result.Previous)), humanize.IBytes(uint64(result.Current)), result.Drift())
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("user %d: %w", id, err)
		}
	}

	fmt.Printf("Reconciled %d users, %d corrected\n", len(ids), drifted)
	return nil
}

func newPurgeCmd() *cobra.Command {
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge expired and long-deleted messages",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one purge pass now",
		RunE: withEnv(runPurge),
	}
	runCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "report what would be deleted without deleting")
	purgeCmd.AddCommand(runCmd)

	return purgeCmd
}

func runPurge(ctx context.Context, e *env, _ []string) error {
	result, err := e.services.Purger.RunOnce(ctx)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Println("Another purge is running, skipped")
		return nil
	}

	prefix := ""
	if e.cfg.Purge.DryRun {
		prefix = "[DRY RUN] "
	}
	fmt.Printf("%sExpired:  %d messages\n", prefix, result.MessagesExpired)
	fmt.Printf("%sDeleted:  %d messages, %s freed\n", prefix, result.MessagesDeleted, humanize.IBytes(uint64(result.BytesFreed)))
	fmt.Printf("%sTokens:   %d expired refresh tokens removed\n", prefix, result.TokensDeleted)
	if result.Errors > 0 {
		fmt.Printf("%sErrors:   %d (see log)\n", prefix, result.Errors)
	}
	fmt.Printf("Took %s\n", result.Duration.Round(time.Millisecond))
	return nil
}
