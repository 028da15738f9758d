// Package cli implements the inboxctl command tree.
package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command with the process arguments.
func Execute() error {
	return newRootCmd(viper.New()).Execute()
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "inboxctl",
		Short: "Operate per-account inbox stores",
		Long: `inboxctl adds, deletes and lists inbox messages directly against a
storage backend and imports inbox snapshots through the migration runner.

Every flag can also be set in the config file or through an INBOXCTL_*
environment variable, e.g. INBOXCTL_REDIS_ADDR for --redis-addr.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}

	f := root.PersistentFlags()
	f.StringP("config", "c", "", "config file (default is ./inboxctl.yaml)")
	f.String("backend", "memory", "storage backend: memory, bolt, redis, postgres or mongo")
	f.String("bolt-path", "inbox.db", "bbolt database file")
	f.String("redis-addr", "localhost:6379", "redis address")
	f.String("redis-password", "", "redis password")
	f.Int("redis-db", 0, "redis database number")
	f.String("postgres-dsn", "", "postgres connection string")
	f.String("mongo-uri", "mongodb://localhost:27017", "mongodb connection uri")
	f.String("mongo-database", "inbox", "mongodb database")
	f.String("caller", "", "hex account acting as the caller")
	f.String("migrator", "", "hex account designated as migrator")
	f.String("authority", "static", "migrator registry: static or redis")
	f.String("events", "noop", "event transport: noop or redis")
	f.Bool("otel", false, "enable OpenTelemetry tracing and metrics")
	f.String("log-level", "warn", "log level: debug, info, warn or error")

	for _, name := range []string{
		"config", "backend", "bolt-path", "redis-addr", "redis-password", "redis-db",
		"postgres-dsn", "mongo-uri", "mongo-database", "caller", "migrator",
		"authority", "events", "otel", "log-level",
	} {
		_ = v.BindPFlag(configKey(name), f.Lookup(name))
	}

	root.AddCommand(
		newAddCmd(v),
		newDeleteCmd(v),
		newListCmd(v),
		newEntriesCmd(v),
		newStatsCmd(v),
		newExportCmd(v),
		newMigrateCmd(v),
		newSetMigratorCmd(v),
	)
	return root
}

// configKey maps a flag name to its config key, e.g. "bolt-path" to
// "bolt.path".
func configKey(flag string) string {
	switch flag {
	case "log-level":
		return "log_level"
	}
	return strings.Replace(flag, "-", ".", 1)
}

func initConfig(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("inboxctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/inboxctl")
	}

	v.SetEnvPrefix("INBOXCTL")
	// INBOXCTL_BOLT_PATH for bolt.path
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if v.GetString("config") != "" || !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}
