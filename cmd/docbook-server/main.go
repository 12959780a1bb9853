package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docbook/docbook/internal/config"
	"github.com/docbook/docbook/internal/platform/db"
	"github.com/docbook/docbook/internal/platform/notification"
	"github.com/docbook/docbook/internal/platform/outbox"
	"github.com/docbook/docbook/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docbook-server",
		Short: "Doctor slot scheduling and booking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending shared and tenant migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				for _, target := range migrationTargets(tenant) {
					count, err := newMigrator(pool, dir, target.dir).Up(ctx, target.schema)
					if err != nil {
						return fmt.Errorf("migration failed on %s: %w", target.schema, err)
					}
					fmt.Printf("Applied %d migration(s) to %s.\n", count, target.schema)
				}
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded copy")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				for _, target := range migrationTargets(tenant) {
					statuses, err := newMigrator(pool, dir, target.dir).Status(ctx, target.schema)
					if err != nil {
						return fmt.Errorf("failed to get migration status for %s: %w", target.schema, err)
					}
					fmt.Printf("%s:\n", target.schema)
					for _, s := range statuses {
						state := "pending"
						if s.Applied && s.AppliedAt != nil {
							state = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Printf("  %03d  %-40s %s\n", s.Version, s.Name, state)
					}
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded copy")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinic tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic schema and apply its migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if _, err := newMigrator(pool, cfg.MigrationsDir, migrations.SharedDir).Up(ctx, db.SharedSchema); err != nil {
					return fmt.Errorf("shared migrations: %w", err)
				}
				fmt.Printf("Creating tenant schema: %s\n", db.TenantSchema(name))
				if err := db.CreateTenantSchema(ctx, pool, name, newMigrator(pool, cfg.MigrationsDir, migrations.TenantDir)); err != nil {
					return err
				}
				fmt.Println("Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and deliver pending notifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver every pending outbox entry once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg)
				sender, closeSender, err := buildSender(cfg, logger)
				if err != nil {
					return err
				}
				defer closeSender()

				notifier := notification.NewNotifier(sender, nil, logger)
				d := outbox.NewDispatcher(outbox.NewStore(pool), notifier, logger).
					WithBatchSize(int32(cfg.OutboxBatchSize)).
					WithMaxAttempts(cfg.OutboxMaxAttempts)

				total := 0
				for {
					n, err := d.Drain(ctx)
					if err != nil {
						return err
					}
					if n == 0 {
						break
					}
					total += n
				}
				fmt.Printf("Delivered %d notification(s).\n", total)
				return nil
			})
		},
	})
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withPool loads the configuration, opens the database and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "docbook").Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

type migrationTarget struct {
	schema string
	dir    string
}

// migrationTargets lists the shared schema first since tenant tables publish
// into the shared outbox.
func migrationTargets(tenant string) []migrationTarget {
	return []migrationTarget{
		{schema: db.SharedSchema, dir: migrations.SharedDir},
		{schema: db.TenantSchema(tenant), dir: migrations.TenantDir},
	}
}

// newMigrator reads from root/sub on disk when root is set and from the
// embedded copy otherwise.
func newMigrator(pool *pgxpool.Pool, root, sub string) *db.Migrator {
	if root != "" {
		return db.NewMigrator(pool, filepath.Join(root, sub))
	}
	return db.NewMigratorFS(pool, migrations.FS, sub)
}
