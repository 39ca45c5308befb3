package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/848838/ChatApp/internal/config"
	"github.com/848838/ChatApp/internal/database"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/identity"
	"github.com/848838/ChatApp/internal/repository"
	postgresrepo "github.com/848838/ChatApp/internal/repository/postgres"
	"github.com/848838/ChatApp/internal/service"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

var (
	flagLogLevel string
	flagPassword string
	flagTTL      time.Duration
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Administer the chat backend",
		Long: `chatctl runs one-off maintenance tasks against the chat backend's
database: applying the schema, creating demo accounts and minting tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(newMigrateCmd(), newSeedCmd(), newTokenCmd())
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			return database.Migrate(cmd.Context(), pool, log)
		},
	}
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo accounts",
		Long: `Creates a fixed set of demo accounts. Accounts whose email already
exists are left untouched, so seeding twice is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			return seedUsers(cmd.Context(), postgresrepo.NewUserRepo(pool), flagPassword, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagPassword, "password", "Password123", "Password given to every demo account")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ttl := cfg.TokenTTL
			if flagTTL > 0 {
				ttl = flagTTL
			}
			return printToken(cmd.OutOrStdout(), identity.NewIssuer(cfg.JWTSecret, ttl), args[0])
		},
	}
	cmd.Flags().DurationVar(&flagTTL, "ttl", 0, "Token lifetime (defaults to TOKEN_TTL)")
	return cmd
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return cfg, logs.GetLoggerFromString(level), nil
}

type demoUser struct {
	name       string
	profession string
}

var demoUsers = []demoUser{
	{name: "Alice Martin", profession: "Designer"},
	{name: "Bob Chen", profession: "Backend engineer"},
	{name: "Carol Diaz", profession: "Product manager"},
	{name: "Dave Okafor", profession: "QA engineer"},
}

func demoEmail(name string) string {
	first, _, _ := strings.Cut(name, " ")
	return strings.ToLower(first) + "@example.com"
}

func seedUsers(ctx context.Context, users repository.UserRepository, password string, out io.Writer) error {
	hash, err := service.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	for _, d := range demoUsers {
		email := demoEmail(d.name)
		existing, err := users.GetByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", email, err)
		}
		if existing != nil {
			fmt.Fprintf(out, "exists   %s  %s\n", existing.ID, email)
			continue
		}

		now := domain.Timestamp(time.Now())
		profession := d.profession
		u := &domain.User{
			ID:           uuid.New(),
			Email:        email,
			Name:         d.name,
			PasswordHash: hash,
			Profession:   &profession,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.Create(ctx, u); err != nil {
			return fmt.Errorf("creating %s: %w", email, err)
		}
		fmt.Fprintf(out, "created  %s  %s\n", u.ID, email)
	}
	return nil
}

func printToken(out io.Writer, issuer *identity.Issuer, rawID string) error {
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", rawID, err)
	}
	token, err := issuer.Issue(userID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
