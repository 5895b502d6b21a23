package syncer

import (
	"context"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/conflict"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/remote"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RecipeRemote is the slice of the remote client used by Recipes.
type RecipeRemote interface {
	PullRecipes(ctx context.Context, identity auth.Identity) ([]cookbook.RecipeDoc, error)
	PushRecipes(ctx context.Context, identity auth.Identity, recipes []cookbook.RecipeDoc) ([]remote.PushResult, error)
}

// RecipesConfig wires a Recipes synchronizer. MaxPushAttempts quarantines a
// recipe after that many failed pushes; zero disables the ceiling.
type RecipesConfig struct {
	Collection      *store.Collection[cookbook.RecipeDoc]
	Remote          RecipeRemote
	Credentials     auth.CredentialProvider
	Clock           func() time.Time
	MaxPushAttempts int
	Logger          *zap.Logger
}

// Recipes synchronizes the recipe collection.
type Recipes struct {
	collection      *store.Collection[cookbook.RecipeDoc]
	remote          RecipeRemote
	credentials     auth.CredentialProvider
	clock           func() time.Time
	maxPushAttempts int
	logger          *zap.Logger
}

// NewRecipes validates cfg and returns a Recipes synchronizer.
func NewRecipes(cfg RecipesConfig) (*Recipes, error) {
	if cfg.Collection == nil {
		return nil, newServiceError(opRecipesNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opRecipesNew, "missing_remote", errMissingRemote)
	}
	if cfg.Credentials == nil {
		return nil, newServiceError(opRecipesNew, "missing_credentials", errMissingCredentials)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recipes{
		collection:      cfg.Collection,
		remote:          cfg.Remote,
		credentials:     cfg.Credentials,
		clock:           clock,
		maxPushAttempts: cfg.MaxPushAttempts,
		logger:          logger,
	}, nil
}

// Name identifies the synchronized collection.
func (r *Recipes) Name() string {
	return "recipes"
}

// Sync pulls then pushes. An authorization failure during pull skips the push.
func (r *Recipes) Sync(ctx context.Context) (Outcome, error) {
	outcome := Outcome{Collection: r.Name()}
	pulled, pullErr := r.Pull(ctx)
	outcome.Pulled = pulled
	if pullErr != nil && remote.IsAuth(pullErr) {
		return outcome, pullErr
	}
	pushed, cleared, pushErr := r.Push(ctx)
	outcome.Pushed = pushed
	outcome.Cleared = cleared
	return outcome, multierr.Combine(pullErr, pushErr)
}

// Pull fetches the remote snapshot and merges it into the local collection.
// A failed fetch leaves the collection untouched and is reported only when no
// local data exists to work from. It returns the number of remote recipes merged.
func (r *Recipes) Pull(ctx context.Context) (int, error) {
	identity, err := r.credentials.Credentials(ctx)
	if err != nil {
		logError(r.logger, opRecipesPull, reasonMissingIdentity, err)
		return 0, newServiceError(opRecipesPull, reasonMissingIdentity, &remote.AuthError{Op: opRecipesPull, Err: err})
	}

	remoteRecipes, err := r.remote.PullRecipes(ctx, identity)
	if err != nil {
		reason := remoteReason(err)
		logError(r.logger, opRecipesPull, reason, err, zap.String("user_id", identity.UserID))
		if remote.IsAuth(err) || len(r.collection.GetAll(ctx)) == 0 {
			return 0, newServiceError(opRecipesPull, reason, err)
		}
		return 0, nil
	}

	now := cookbook.NowMillis(r.clock)
	if _, err := r.collection.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		return mergeRecipes(current, remoteRecipes, now), nil
	}); err != nil {
		logError(r.logger, opRecipesPull, reasonPersist, err)
		return 0, newServiceError(opRecipesPull, reasonPersist, err)
	}
	return len(remoteRecipes), nil
}

// Push sends every pending recipe. On success only entities that were not
// re-dirtied while the batch was in flight are marked clean. It returns the
// batch size and the number of entities cleared.
func (r *Recipes) Push(ctx context.Context) (int, int, error) {
	pending := make([]store.LocalEntity[cookbook.RecipeDoc], 0)
	for _, entity := range r.collection.GetAll(ctx) {
		if entity.Sync.Pending() {
			pending = append(pending, entity)
		}
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	identity, err := r.credentials.Credentials(ctx)
	if err != nil {
		logError(r.logger, opRecipesPush, reasonMissingIdentity, err)
		return 0, 0, newServiceError(opRecipesPush, reasonMissingIdentity, &remote.AuthError{Op: opRecipesPush, Err: err})
	}

	now := cookbook.NowMillis(r.clock)
	batch := make([]cookbook.RecipeDoc, 0, len(pending))
	revisions := make(map[string]int64, len(pending))
	normalized := make(map[string]cookbook.RecipeDoc, len(pending))
	for _, entity := range pending {
		doc := entity.Data.WithTimestamps(entity.Data.CreatedAt, now)
		doc.ID = entity.ID
		batch = append(batch, doc)
		revisions[entity.ID] = entity.Sync.Revision
		normalized[entity.ID] = doc
	}

	results, err := r.remote.PushRecipes(ctx, identity, batch)
	if err != nil {
		reason := remoteReason(err)
		logError(r.logger, opRecipesPush, reason, err, zap.Int("batch_size", len(batch)))
		if !remote.IsAuth(err) {
			r.recordFailedPush(ctx, revisions)
		}
		return len(batch), 0, newServiceError(opRecipesPush, reason, err)
	}
	for _, result := range results {
		if !result.Accepted {
			r.logger.Info("remote kept a newer recipe",
				zap.String("recipe_id", result.ID), zap.Int64("version", result.Version))
		}
	}

	cleared := 0
	if _, err := r.collection.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		cleared = 0
		next := make([]store.LocalEntity[cookbook.RecipeDoc], len(current))
		copy(next, current)
		for position, entity := range next {
			revision, inBatch := revisions[entity.ID]
			if !inBatch || entity.Sync.Revision != revision {
				continue
			}
			next[position] = store.LocalEntity[cookbook.RecipeDoc]{
				ID:   entity.ID,
				Data: normalized[entity.ID],
				Sync: entity.Sync.MarkClean(now),
			}
			cleared++
		}
		return next, nil
	}); err != nil {
		logError(r.logger, opRecipesPush, reasonPersist, err)
		return len(batch), 0, newServiceError(opRecipesPush, reasonPersist, err)
	}
	return len(batch), cleared, nil
}

func (r *Recipes) recordFailedPush(ctx context.Context, revisions map[string]int64) {
	if r.maxPushAttempts <= 0 {
		return
	}
	_, err := r.collection.Update(ctx, func(current []store.LocalEntity[cookbook.RecipeDoc]) ([]store.LocalEntity[cookbook.RecipeDoc], error) {
		next := make([]store.LocalEntity[cookbook.RecipeDoc], len(current))
		copy(next, current)
		for position, entity := range next {
			revision, inBatch := revisions[entity.ID]
			if !inBatch || entity.Sync.Revision != revision {
				continue
			}
			next[position].Sync = entity.Sync.RecordFailedPush(r.maxPushAttempts)
			if next[position].Sync.Quarantined {
				r.logger.Warn("recipe quarantined after repeated push failures",
					zap.String("recipe_id", entity.ID),
					zap.Int("attempts", next[position].Sync.PushAttempts))
			}
		}
		return next, nil
	})
	if err != nil {
		logError(r.logger, opRecipesPush, reasonPersist, err)
	}
}

// mergeRecipes folds a remote snapshot into the local collection. Local order is
// kept and remote-only recipes are appended in remote order.
func mergeRecipes(current []store.LocalEntity[cookbook.RecipeDoc], remoteRecipes []cookbook.RecipeDoc, now int64) []store.LocalEntity[cookbook.RecipeDoc] {
	remoteByID := make(map[string]cookbook.RecipeDoc, len(remoteRecipes))
	remoteOrder := make([]string, 0, len(remoteRecipes))
	for _, recipe := range remoteRecipes {
		if _, seen := remoteByID[recipe.ID]; !seen {
			remoteOrder = append(remoteOrder, recipe.ID)
		}
		remoteByID[recipe.ID] = recipe
	}

	merged := make([]store.LocalEntity[cookbook.RecipeDoc], 0, len(current)+len(remoteOrder))
	localIDs := make(map[string]struct{}, len(current))
	for _, entity := range current {
		localIDs[entity.ID] = struct{}{}
		remoteRecipe, ok := remoteByID[entity.ID]
		if !ok {
			merged = append(merged, entity)
			continue
		}
		merged = append(merged, mergeRecipe(entity, remoteRecipe, now))
	}

	for _, id := range remoteOrder {
		if _, ok := localIDs[id]; ok {
			continue
		}
		merged = append(merged, store.LocalEntity[cookbook.RecipeDoc]{
			ID:   id,
			Data: remoteByID[id],
			Sync: store.SyncMeta{}.MarkClean(now),
		})
	}
	return merged
}

func mergeRecipe(local store.LocalEntity[cookbook.RecipeDoc], remoteRecipe cookbook.RecipeDoc, now int64) store.LocalEntity[cookbook.RecipeDoc] {
	if local.Data.IsDeleted != remoteRecipe.IsDeleted {
		return mergeTombstone(local, remoteRecipe, now)
	}

	resolution := conflict.Resolve(&local.Data, &remoteRecipe)
	if resolution.Winner == conflict.WinnerLocal {
		return local
	}
	return takeRemote(local, remoteRecipe, now)
}

// mergeTombstone handles the case where exactly one side is deleted. The
// deletion always survives. When the remote tombstone already carries it the
// result is clean, otherwise the local tombstone is dirty so it gets pushed.
func mergeTombstone(local store.LocalEntity[cookbook.RecipeDoc], remoteRecipe cookbook.RecipeDoc, now int64) store.LocalEntity[cookbook.RecipeDoc] {
	localAt, remoteAt := local.Data.UpdatedAt, remoteRecipe.UpdatedAt
	if remoteRecipe.IsDeleted && remoteAt >= localAt {
		return takeRemote(local, remoteRecipe, now)
	}
	if local.Data.IsDeleted && localAt > remoteAt {
		return local
	}

	source := local.Data
	if remoteRecipe.IsDeleted {
		source = remoteRecipe
	}
	tombstone := source.AsTombstone(max(localAt, remoteAt))
	if local.Sync.Dirty && sameContent(local.Data, tombstone) {
		return local
	}
	return store.LocalEntity[cookbook.RecipeDoc]{
		ID:   local.ID,
		Data: tombstone,
		Sync: local.Sync.MarkDirty(),
	}
}

func takeRemote(local store.LocalEntity[cookbook.RecipeDoc], remoteRecipe cookbook.RecipeDoc, now int64) store.LocalEntity[cookbook.RecipeDoc] {
	if !local.Sync.Dirty && sameContent(local.Data.Normalize(), remoteRecipe) {
		return local
	}
	return store.LocalEntity[cookbook.RecipeDoc]{
		ID:   local.ID,
		Data: remoteRecipe,
		Sync: local.Sync.MarkClean(now),
	}
}

func remoteReason(err error) string {
	switch {
	case remote.IsAuth(err):
		return reasonUnauthorized
	case remote.IsParse(err):
		return reasonParse
	default:
		return reasonTransport
	}
}
