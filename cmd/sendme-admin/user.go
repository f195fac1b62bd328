package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/repository"
)

var (
	userPassword string
	userQuota    string
	listLimit    int
	listOffset   int
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long: `Manage SendMe users.

Examples:
  # Create a verified user with a 1 GB quota
  sendme-admin user create alice --password s3cretpass --quota 1GB

  # Change a user's quota
  sendme-admin user set-quota alice 500MB

  # Show a user's quota usage
  sendme-admin user quota alice`,
	}

	createCmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a verified user",
		Args:  cobra.ExactArgs(1),
		RunE:  withEnv(runUserCreate),
	}
	createCmd.Flags().StringVar(&userPassword, "password", "", "initial password (required)")
	createCmd.Flags().StringVar(&userQuota, "quota", "", "quota such as 100MB or 2GiB (default from config)")
	_ = createCmd.MarkFlagRequired("password")
	userCmd.AddCommand(createCmd)

	userCmd.AddCommand(&cobra.Command{
		Use:   "set-quota <username> <size>",
		Short: "Change a user's maximum quota",
		Args:  cobra.ExactArgs(2),
		RunE:  withEnv(runUserSetQuota),
	})

	userCmd.AddCommand(&cobra.Command{
		Use:   "quota <username>",
		Short: "Show a user's quota usage",
		Args:  cobra.ExactArgs(1),
		RunE:  withEnv(runUserQuota),
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE:  withEnv(runUserList),
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "maximum number of users")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "number of users to skip")
	userCmd.AddCommand(listCmd)

	return userCmd
}

// parseSize accepts humanized sizes ("100MB", "2GiB") and plain byte counts.
func parseSize(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, domain.ErrInvalidQuota
		}
		return n, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

func runUserCreate(ctx context.Context, e *env, args []string) error {
	username := args[0]
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	if len(userPassword) < 8 {
		return domain.ErrPasswordTooShort
	}

	quota := e.cfg.Quota.DefaultMaxBytes
	if userQuota != "" {
		n, err := parseSize(userQuota)
		if err != nil {
			return err
		}
		quota = n
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(userPassword), e.cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.NewUser(username, string(hash), quota)
	user.IsVerified = true
	if err := e.db.User.Create(ctx, user); err != nil {
		return err
	}

	fmt.Printf("Created user %q (id %d) with quota %s\n", user.Username, user.ID, humanize.IBytes(uint64(user.MaxQuotaBytes)))
	return nil
}

func runUserSetQuota(ctx context.Context, e *env, args []string) error {
	user, err := e.db.User.GetByUsername(ctx, args[0])
	if err != nil {
		return err
	}
	quota, err := parseSize(args[1])
	if err != nil {
		return err
	}
	if err := e.db.User.SetMaxCapacity(ctx, user.ID, quota); err != nil {
		if errors.Is(err, domain.ErrInvalidQuota) {
			return fmt.Errorf("%w (delete messages first; %s in use)", err, humanize.IBytes(uint64(user.UsedQuotaBytes)))
		}
		return err
	}

	fmt.Printf("Quota of %q set to %s\n", user.Username, humanize.IBytes(uint64(quota)))
	return nil
}

func runUserQuota(ctx context.Context, e *env, args []string) error {
	user, err := e.db.User.GetByUsername(ctx, args[0])
	if err != nil {
		return err
	}
	usage, err := e.services.Ledger.Usage(ctx, user.ID)
	if err != nil {
		return err
	}

	fmt.Printf("User:      %s (id %d)\n", user.Username, user.ID)
	fmt.Printf("Used:      %s (%d bytes)\n", humanize.IBytes(uint64(usage.Used)), usage.Used)
	fmt.Printf("Max:       %s (%d bytes)\n", humanize.IBytes(uint64(usage.Max)), usage.Max)
	fmt.Printf("Available: %s\n", humanize.IBytes(uint64(usage.Available)))
	fmt.Printf("Usage:     %.1f%%\n", usage.Percent)
	return nil
}

func runUserList(ctx context.Context, e *env, _ []string) error {
	result, err := e.db.User.List(ctx, repository.ListOptions{Limit: listLimit, Offset: listOffset})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tVERIFIED\tUSED\tMAX\tCREATED")
	for _, u := range result.Items {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n",
			u.ID, u.Username, u.IsVerified,
			humanize.IBytes(uint64(u.UsedQuotaBytes)),
			humanize.IBytes(uint64(u.MaxQuotaBytes)),
			humanize.Time(u.CreatedAt))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d users\n", len(result.Items), result.Total)
	return nil
}
