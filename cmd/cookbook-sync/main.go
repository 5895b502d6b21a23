package main

import (
	"errors"
	"os"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cookbook-sync",
		Short: "Cookbook offline-first sync client and reference server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newSyncCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "Local SQLite database path")
	flags.String("server-database-path", defaults.GetString("server.database_path"), "Reference server SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("remote-base-url", defaults.GetString("remote.base_url"), "Base URL of the remote sync endpoints")
	flags.String("remote-environment", defaults.GetString("remote.environment"), "Environment tag sent with every request")
	flags.Duration("remote-timeout", defaults.GetDuration("remote.timeout"), "Timeout for a single remote request")
	flags.Int("remote-max-attempts", defaults.GetInt("remote.max_attempts"), "Attempts per remote request on 429 and 5xx")
	flags.Duration("sync-throttle", defaults.GetDuration("sync.throttle"), "Minimum spacing between unforced sync passes")
	flags.Int("sync-max-push-attempts", defaults.GetInt("sync.max_push_attempts"), "Failed pushes before a recipe is quarantined (0 disables)")
	flags.String("signing-secret", "", "Bearer token signing secret (overrides env)")
	flags.String("auth-issuer", defaults.GetString("auth.issuer"), "Bearer token issuer")
	flags.String("auth-audience", defaults.GetString("auth.audience"), "Bearer token audience")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	flags.String("device-id", defaults.GetString("device.id"), "Device identifier sent with sync requests")
	flags.String("user-id", defaults.GetString("user.id"), "User identifier to sync as")
	flags.String("user-token", "", "Bearer token for the user (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "server.database_path", "server-database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.environment", "remote-environment")
	bindFlag(cmd, "remote.timeout", "remote-timeout")
	bindFlag(cmd, "remote.max_attempts", "remote-max-attempts")
	bindFlag(cmd, "sync.throttle", "sync-throttle")
	bindFlag(cmd, "sync.max_push_attempts", "sync-max-push-attempts")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.audience", "auth-audience")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "device.id", "device-id")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "user.token", "user-token")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
