package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tordrt/datasink"
	"github.com/tordrt/datasink/internal/config"
	"github.com/tordrt/datasink/internal/transport"
)

var (
	databaseURL   string
	databaseName  string
	serverAddress string
	sqliteDriver  string
	logFormat     string
	verbose       bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "datasink",
	Short: "Remote CRUD and SQL access to SQLite, PostgreSQL, MySQL and SQL Server",
	Long: `Datasink serves structured CRUD operations and streamed SQL queries over one or
more registered databases, and provisions databases from declarative schema files.

Run 'datasink server start' to serve, then use the client commands (query, insert,
update, delete, batch-insert, server status, ...) against it.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&databaseURL, "database-url", "d", "", "Database URL (env DATABASE_URL)")
	rootCmd.PersistentFlags().StringVarP(&databaseName, "database-name", "n", "", "Database name, resolved to sqlite://<name>.db (env DATABASE_NAME)")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server-address", "s", "", "Server address for client commands (default "+config.DefaultServerAddress+")")
	rootCmd.PersistentFlags().StringVar(&sqliteDriver, "sqlite-driver", "", "SQLite driver: mattn or modernc (env DATASINK_SQLITE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (env DATASINK_LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serverCmd, queryCmd, insertCmd, updateCmd, deleteCmd, batchInsertCmd, schemaCmd)
}

// loadConfig layers flags over the environment over the defaults.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.FromEnv()
	if err != nil {
		return err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.DatabaseURL, databaseURL)
	override(&c.DatabaseName, databaseName)
	override(&c.ServerAddress, serverAddress)
	override(&c.SQLiteDriver, sqliteDriver)
	override(&c.LogFormat, logFormat)
	if bindAddress != "" {
		c.BindAddress = bindAddress
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	return nil
}

// resolveDatabaseURL returns the normalised locator of the default database.
func resolveDatabaseURL() (string, error) {
	url, err := config.ResolveDatabaseURL(cfg.DatabaseURL, cfg.DatabaseName, ".")
	if err != nil {
		return "", err
	}
	return config.ValidateDatabaseURL(url)
}

func newLogger() *slog.Logger {
	return config.NewLogger(os.Stderr, cfg, verbose)
}

func libraryOptions() *datasink.Options {
	return &datasink.Options{SQLiteDriver: cfg.SQLiteDriver, Logger: newLogger()}
}

func newClient() *transport.Client {
	return transport.NewClient(cfg.ServerAddress, nil)
}

// unaryContext bounds a single client call.
func unaryContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
