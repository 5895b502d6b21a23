// Package orchestrator is the entry point used by the application: it stages
// local mutations and runs every synchronizer in a throttled, coalesced pass.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/legacy"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/syncer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultThrottle is the minimum spacing between two unforced sync passes.
	DefaultThrottle = 30 * time.Second

	// ReasonDelete is the reason recorded for passes triggered by DeleteRecipe.
	ReasonDelete = "delete"

	flightKey       = "sync"
	flightBypassKey = "sync.bypass"

	opNew                  = "orchestrator.new"
	opMarkRecipeDirty      = "orchestrator.mark_recipe_dirty"
	opDeleteRecipe         = "orchestrator.delete_recipe"
	opMarkPreferencesDirty = "orchestrator.mark_preferences_dirty"
	opRequeue              = "orchestrator.requeue_quarantined"
	opLoadRecipes          = "orchestrator.load_recipes"
)

var (
	// ErrRecipeNotFound indicates that no local recipe carries the requested id.
	ErrRecipeNotFound = errors.New("orchestrator: recipe not found")

	errMissingRecipes     = errors.New("recipe collection is required")
	errMissingPreferences = errors.New("preferences document is required")
	errMissingIDProvider  = errors.New("id provider is required")
)

// ServiceError carries a dotted operation code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Synchronizer is one pull-then-push unit run by SyncAll.
type Synchronizer interface {
	Name() string
	Sync(ctx context.Context) (syncer.Outcome, error)
}

// Config wires an Orchestrator. A zero Throttle disables throttling; callers
// normally pass DefaultThrottle or the configured window.
type Config struct {
	Recipes       *store.Collection[cookbook.RecipeDoc]
	Preferences   *store.Document[cookbook.PreferencesDoc]
	Migrator      *legacy.Migrator[cookbook.RecipeDoc]
	Synchronizers []Synchronizer
	IDProvider    cookbook.IDProvider
	Clock         func() time.Time
	Throttle      time.Duration
	Logger        *zap.Logger
}

// SyncOptions tunes a single SyncAll call.
type SyncOptions struct {
	BypassThrottle bool
}

// Report describes the outcome of a SyncAll call.
type Report struct {
	Reason     string
	Throttled  bool
	Shared     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Migration  legacy.Report
	Outcomes   []syncer.Outcome
}

// Orchestrator coordinates local mutations and sync passes.
type Orchestrator struct {
	recipes       *store.Collection[cookbook.RecipeDoc]
	preferences   *store.Document[cookbook.PreferencesDoc]
	migrator      *legacy.Migrator[cookbook.RecipeDoc]
	synchronizers []Synchronizer
	idProvider    cookbook.IDProvider
	clock         func() time.Time
	throttle      time.Duration
	logger        *zap.Logger

	flight        singleflight.Group
	mu            sync.Mutex
	lastCompleted time.Time
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Recipes == nil {
		return nil, newServiceError(opNew, "missing_recipes", errMissingRecipes)
	}
	if cfg.Preferences == nil {
		return nil, newServiceError(opNew, "missing_preferences", errMissingPreferences)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	throttle := cfg.Throttle
	if throttle < 0 {
		throttle = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		recipes:       cfg.Recipes,
		preferences:   cfg.Preferences,
		migrator:      cfg.Migrator,
		synchronizers: cfg.Synchronizers,
		idProvider:    cfg.IDProvider,
		clock:         clock,
		throttle:      throttle,
		logger:        logger,
	}, nil
}

// LoadRecipes returns the local recipes after folding in the legacy snapshot.
func (o *Orchestrator) LoadRecipes(ctx context.Context) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
	if o.migrator == nil {
		return o.recipes.GetAll(ctx), nil
	}
	entities, _, err := o.migrator.Load(ctx)
	if err != nil {
		o.logError(opLoadRecipes, "migration_failed", err)
		return nil, newServiceError(opLoadRecipes, "migration_failed", err)
	}
	return entities, nil
}

// MarkRecipeDirty stages a recipe mutation locally without network activity. A
// recipe without id gets a fresh one. updatedAt is refreshed to now and createdAt
// is kept from the stored copy when present.
func (o *Orchestrator) MarkRecipeDirty(ctx context.Context, recipe cookbook.RecipeDoc) (cookbook.RecipeDoc, error) {
	if recipe.ID == "" {
		id, err := o.idProvider.NewID()
		if err != nil {
			o.logError(opMarkRecipeDirty, "id_generation_failed", err)
			return cookbook.RecipeDoc{}, newServiceError(opMarkRecipeDirty, "id_generation_failed", err)
		}
		recipe.ID = id
	}
	recipeID, err := cookbook.NewRecipeID(recipe.ID)
	if err != nil {
		return cookbook.RecipeDoc{}, newServiceError(opMarkRecipeDirty, "invalid_recipe", err)
	}
	recipe.ID = recipeID.String()

	now := cookbook.NowMillis(o.clock)
	var staged cookbook.RecipeDoc
	_, err = o.recipes.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		next := make([]store.LocalEntity[cookbook.RecipeDoc], len(current))
		copy(next, current)
		index := store.Index(next)

		createdAt := recipe.CreatedAt
		position, exists := index[recipe.ID]
		if exists && next[position].Data.CreatedAt > 0 {
			createdAt = next[position].Data.CreatedAt
		}
		staged = recipe.WithTimestamps(createdAt, now)
		if err := staged.Validate(); err != nil {
			return nil, err
		}

		if exists {
			next[position].Data = staged
			next[position].Sync = next[position].Sync.MarkDirty()
			return next, nil
		}
		return append(next, store.NewDirty(staged.ID, staged)), nil
	})
	if err != nil {
		o.logError(opMarkRecipeDirty, "persist_failed", err, zap.String("recipe_id", recipe.ID))
		return cookbook.RecipeDoc{}, newServiceError(opMarkRecipeDirty, "persist_failed", err)
	}
	return staged, nil
}

// DeleteRecipe tombstones a recipe and immediately runs a sync pass that
// bypasses the throttle. Recipes still only present in the legacy snapshot are
// folded into the structured store first.
func (o *Orchestrator) DeleteRecipe(ctx context.Context, id string) (Report, error) {
	if o.migrator != nil {
		if _, _, err := o.migrator.Load(ctx); err != nil {
			o.logError(opDeleteRecipe, "migration_failed", err, zap.String("recipe_id", id))
			return Report{}, newServiceError(opDeleteRecipe, "migration_failed", err)
		}
	}
	now := cookbook.NowMillis(o.clock)
	_, err := o.recipes.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		next := make([]store.LocalEntity[cookbook.RecipeDoc], len(current))
		copy(next, current)
		position, ok := store.Index(next)[id]
		if !ok {
			return nil, ErrRecipeNotFound
		}
		next[position].Data = next[position].Data.AsTombstone(max(now, next[position].Data.UpdatedAt))
		next[position].Sync = next[position].Sync.MarkDirty()
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrRecipeNotFound) {
			return Report{}, newServiceError(opDeleteRecipe, "not_found", err)
		}
		o.logError(opDeleteRecipe, "persist_failed", err, zap.String("recipe_id", id))
		return Report{}, newServiceError(opDeleteRecipe, "persist_failed", err)
	}
	return o.SyncAll(ctx, ReasonDelete, SyncOptions{BypassThrottle: true})
}

// MarkPreferencesDirty stages a preferences change with updatedAt refreshed to now.
func (o *Orchestrator) MarkPreferencesDirty(ctx context.Context, doc cookbook.PreferencesDoc) (cookbook.PreferencesDoc, error) {
	staged := doc.Normalize()
	staged.UpdatedAt = cookbook.NowMillis(o.clock)
	_, err := o.preferences.Update(ctx, func(current store.Snapshot[cookbook.PreferencesDoc]) (store.Snapshot[cookbook.PreferencesDoc], error) {
		current.Doc = &staged
		current.Meta.Dirty = true
		return current, nil
	})
	if err != nil {
		o.logError(opMarkPreferencesDirty, "persist_failed", err)
		return cookbook.PreferencesDoc{}, newServiceError(opMarkPreferencesDirty, "persist_failed", err)
	}
	return staged, nil
}

// RequeueQuarantined re-arms every quarantined recipe for the next push and
// returns how many were released.
func (o *Orchestrator) RequeueQuarantined(ctx context.Context) (int, error) {
	released := 0
	_, err := o.recipes.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		released = 0
		next := make([]store.LocalEntity[cookbook.RecipeDoc], len(current))
		copy(next, current)
		for position := range next {
			if !next[position].Sync.Quarantined {
				continue
			}
			next[position].Sync = next[position].Sync.MarkDirty()
			released++
		}
		return next, nil
	})
	if err != nil {
		o.logError(opRequeue, "persist_failed", err)
		return 0, newServiceError(opRequeue, "persist_failed", err)
	}
	if released > 0 {
		o.logger.Info("quarantined recipes requeued", zap.Int("count", released))
	}
	return released, nil
}

// SyncAll runs every synchronizer once. A call within the throttle window of the
// last successful pass is skipped unless opts.BypassThrottle is set. Concurrent
// calls share one in-flight pass. Synchronizers run concurrently and a failure
// in one does not stop the others; all failures are returned combined.
func (o *Orchestrator) SyncAll(ctx context.Context, reason string, opts SyncOptions) (Report, error) {
	if !opts.BypassThrottle && o.throttled() {
		o.logger.Debug("sync pass throttled", zap.String("reason", reason))
		return Report{Reason: reason, Throttled: true}, nil
	}

	key := flightKey
	if opts.BypassThrottle {
		key = flightBypassKey
	}
	value, err, shared := o.flight.Do(key, func() (any, error) {
		return o.runPass(ctx, reason)
	})
	report, _ := value.(Report)
	report.Shared = shared
	return report, err
}

func (o *Orchestrator) runPass(ctx context.Context, reason string) (Report, error) {
	report := Report{Reason: reason, StartedAt: o.clock()}
	var errs error

	if o.migrator != nil {
		_, migration, err := o.migrator.Load(ctx)
		if err != nil {
			errs = multierr.Append(errs, newServiceError(opLoadRecipes, "migration_failed", err))
		}
		report.Migration = migration
	}

	// A bare errgroup.Group has no shared context, so one failure never cancels
	// the other synchronizers. Wait reports the first failure; all of them are
	// collected per position.
	outcomes := make([]syncer.Outcome, len(o.synchronizers))
	failures := make([]error, len(o.synchronizers))
	var group errgroup.Group
	for position, synchronizer := range o.synchronizers {
		group.Go(func() error {
			outcome, err := synchronizer.Sync(ctx)
			outcomes[position] = outcome
			if err != nil {
				o.logger.Warn("synchronizer failed",
					zap.String("reason", reason),
					zap.String("synchronizer", synchronizer.Name()),
					zap.Error(err))
				failures[position] = err
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		errs = multierr.Append(errs, multierr.Combine(failures...))
	}
	report.Outcomes = outcomes
	report.FinishedAt = o.clock()

	if errs == nil {
		o.mu.Lock()
		o.lastCompleted = report.FinishedAt
		o.mu.Unlock()
	}

	o.logger.Info("sync pass finished",
		zap.String("reason", reason),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("synchronizers", len(outcomes)),
		zap.Int("failures", len(multierr.Errors(errs))))
	return report, errs
}

func (o *Orchestrator) throttled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.throttle == 0 || o.lastCompleted.IsZero() {
		return false
	}
	return o.clock().Sub(o.lastCompleted) < o.throttle
}

func (o *Orchestrator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	o.logger.Error("orchestrator error", attrs...)
}
