package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunoniconeves/ascertain-task/internal/config"
	"github.com/brunoniconeves/ascertain-task/internal/domain/patient"
	"github.com/brunoniconeves/ascertain-task/internal/platform/db"
	"github.com/brunoniconeves/ascertain-task/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ascertain-server",
		Short: "Patient records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			var count int
			switch cfg.Driver() {
			case config.DriverSQLite:
				sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath())
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				count, err = db.MigrateSQLite(ctx, sqlDB, migrations.SQLite())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			default:
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
				if err != nil {
					return err
				}
				defer pool.Close()
				count, err = db.NewMigrator(pool, migrations.Postgres()).WithLogger(logger).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			var statuses []db.MigrationStatus
			switch cfg.Driver() {
			case config.DriverSQLite:
				sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath())
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				statuses, err = db.StatusSQLite(ctx, sqlDB, migrations.SQLite())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			default:
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
				if err != nil {
					return err
				}
				defer pool.Close()
				statuses, err = db.NewMigrator(pool, migrations.Postgres()).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert development patients into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				fmt.Printf("Seed skipped: ENV=%q (seeding only runs in development).\n", cfg.Env)
				return nil
			}

			logger := newLogger(cfg)
			ctx := context.Background()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := patient.NewService(st.patients, patient.Options{
				MRNAutoGenerate: cfg.PatientMRNAutoGenerate,
				MRNPrefix:       cfg.PatientMRNPrefix,
			}, logger)
			n, err := svc.SeedIfEmpty(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d patient(s).\n", n)
			return nil
		},
	}
}
