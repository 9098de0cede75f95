package main

import (
	"fmt"
	"os"

	"github.com/berguner/looper/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "looper-migrate"}

func newMigrate(cmd *cobra.Command) (*migrate.Migrate, error) {
	env, loaded := config.LoadEnv()
	if !loaded {
		fmt.Println("No .env file found. Using --db flag or the process environment.")
	}
	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr = env.DBConnStr
	}
	if connStr == "" {
		return nil, fmt.Errorf("--db flag, LOOPER_DB or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	dir, _ := cmd.Flags().GetString("path")
	return migrate.New("file://"+dir, connStr)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending ledger migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMigrate(cmd)
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent ledger migration",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMigrate(cmd)
		if err != nil {
			fmt.Printf("Failed to initialize migrations: %v\n", err)
			os.Exit(1)
		}
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to roll back migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Rolled back one migration")
	},
}

func main() {
	for _, cmd := range []*cobra.Command{upCmd, downCmd} {
		cmd.Flags().String("db", "", "Database connection string (optional if LOOPER_DB or DB_* env vars are set)")
		cmd.Flags().String("path", "migrations", "Migrations directory")
		rootCmd.AddCommand(cmd)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
