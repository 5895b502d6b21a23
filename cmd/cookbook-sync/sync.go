package main

import (
	"fmt"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/config"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/database"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/legacy"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/logging"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/orchestrator"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/remote"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	keyRecipes         = "recipes.v2"
	keyLegacyRecipes   = "recipes"
	keyPreferences     = "preferences.v2"
	keyPreferencesMeta = "preferences.v2.meta"
)

func newSyncCommand() *cobra.Command {
	var (
		reason    string
		force     bool
		requeue   bool
		deleteIDs []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, reason, force, requeue, deleteIDs)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cli", "Reason recorded for the sync pass")
	cmd.Flags().BoolVar(&force, "force", true, "Bypass the sync throttle")
	cmd.Flags().BoolVar(&requeue, "requeue-quarantined", false, "Re-arm quarantined recipes before syncing")
	cmd.Flags().StringSliceVar(&deleteIDs, "delete", nil, "Recipe ids to tombstone before syncing")
	return cmd
}

func runSync(cmd *cobra.Command, reason string, force, requeue bool, deleteIDs []string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateSync(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, zap.String("command", "sync"), zap.String("device_id", appConfig.DeviceID))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenLocal(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	kv, err := store.NewKV(db, time.Now)
	if err != nil {
		return err
	}

	syncOrchestrator, err := newOrchestrator(kv, appConfig, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if requeue {
		if _, err := syncOrchestrator.RequeueQuarantined(ctx); err != nil {
			return err
		}
	}
	for _, id := range deleteIDs {
		if _, err := syncOrchestrator.DeleteRecipe(ctx, id); err != nil {
			logger.Warn("delete sync pass failed", zap.String("recipe_id", id), zap.Error(err))
		}
	}

	report, err := syncOrchestrator.SyncAll(ctx, reason, orchestrator.SyncOptions{BypassThrottle: force})
	printReport(cmd, report)
	return err
}

func newOrchestrator(kv *store.KV, appConfig config.AppConfig, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	credentials := auth.StaticCredentials{UserID: appConfig.UserID, Token: appConfig.UserToken}

	client, err := remote.NewClient(remote.Config{
		BaseURL:     appConfig.RemoteBaseURL,
		Environment: appConfig.RemoteEnvironment,
		Timeout:     appConfig.RemoteTimeout,
		MaxAttempts: appConfig.RemoteMaxAttempts,
		DeviceIDs:   auth.StaticDeviceID(appConfig.DeviceID),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	recipes := store.NewCollection[cookbook.RecipeDoc](kv, keyRecipes, logger)
	preferences := store.NewDocument[cookbook.PreferencesDoc](kv, keyPreferences, keyPreferencesMeta, logger)

	recipeSyncer, err := syncer.NewRecipes(syncer.RecipesConfig{
		Collection:      recipes,
		Remote:          client,
		Credentials:     credentials,
		Clock:           time.Now,
		MaxPushAttempts: appConfig.SyncMaxPushAttempts,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	preferencesSyncer, err := syncer.NewPreferences(syncer.PreferencesConfig{
		Document:    preferences,
		Remote:      client,
		Credentials: credentials,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	synchronizers := []orchestrator.Synchronizer{recipeSyncer}
	if credentials.Token != "" {
		synchronizers = append(synchronizers, preferencesSyncer)
	} else {
		logger.Info("no bearer token configured, preferences sync disabled")
	}

	return orchestrator.New(orchestrator.Config{
		Recipes:       recipes,
		Preferences:   preferences,
		Migrator:      legacy.NewMigrator(kv, keyLegacyRecipes, recipes, time.Now, logger),
		Synchronizers: synchronizers,
		IDProvider:    cookbook.NewUUIDProvider(),
		Clock:         time.Now,
		Throttle:      appConfig.SyncThrottle,
		Logger:        logger,
	})
}

func printReport(cmd *cobra.Command, report orchestrator.Report) {
	out := cmd.OutOrStdout()
	if report.Throttled {
		fmt.Fprintf(out, "sync %q skipped: throttled\n", report.Reason)
		return
	}
	fmt.Fprintf(out, "sync %q finished in %s\n", report.Reason, report.FinishedAt.Sub(report.StartedAt))
	if report.Migration.Changed() {
		fmt.Fprintf(out, "  legacy: rebuilt=%t added=%d replaced=%d tombstoned=%d\n",
			report.Migration.Rebuilt, report.Migration.Added, report.Migration.Replaced, report.Migration.Tombstoned)
	}
	for _, outcome := range report.Outcomes {
		fmt.Fprintf(out, "  %s: pulled=%d pushed=%d cleared=%d\n",
			outcome.Collection, outcome.Pulled, outcome.Pushed, outcome.Cleared)
	}
}

