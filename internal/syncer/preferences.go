package syncer

import (
	"context"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/remote"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PreferencesRemote is the slice of the remote client used by Preferences.
type PreferencesRemote interface {
	PullPreferences(ctx context.Context, identity auth.Identity) (*cookbook.PreferencesDoc, error)
	PushPreferences(ctx context.Context, identity auth.Identity, doc cookbook.PreferencesDoc) error
}

// PreferencesConfig wires a Preferences synchronizer.
type PreferencesConfig struct {
	Document    *store.Document[cookbook.PreferencesDoc]
	Remote      PreferencesRemote
	Credentials auth.CredentialProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Preferences synchronizes the singleton preferences document. Besides the dirty
// flag it tracks the user the document was last pushed for, so a change of
// identity forces a push.
type Preferences struct {
	document    *store.Document[cookbook.PreferencesDoc]
	remote      PreferencesRemote
	credentials auth.CredentialProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewPreferences validates cfg and returns a Preferences synchronizer.
func NewPreferences(cfg PreferencesConfig) (*Preferences, error) {
	if cfg.Document == nil {
		return nil, newServiceError(opPreferencesNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opPreferencesNew, "missing_remote", errMissingRemote)
	}
	if cfg.Credentials == nil {
		return nil, newServiceError(opPreferencesNew, "missing_credentials", errMissingCredentials)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Preferences{
		document:    cfg.Document,
		remote:      cfg.Remote,
		credentials: cfg.Credentials,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Name identifies the synchronized document.
func (p *Preferences) Name() string {
	return "preferences"
}

// Sync pulls then pushes. An authorization failure during pull skips the push.
func (p *Preferences) Sync(ctx context.Context) (Outcome, error) {
	outcome := Outcome{Collection: p.Name()}
	pulled, pullErr := p.Pull(ctx)
	if pulled {
		outcome.Pulled = 1
	}
	if pullErr != nil && remote.IsAuth(pullErr) {
		return outcome, pullErr
	}
	pushed, pushErr := p.Push(ctx)
	if pushed {
		outcome.Pushed = 1
		outcome.Cleared = 1
	}
	return outcome, multierr.Combine(pullErr, pushErr)
}

// Pull reconciles the local document with the remote one. It reports whether a
// remote document was received.
func (p *Preferences) Pull(ctx context.Context) (bool, error) {
	identity, err := p.credentials.Credentials(ctx)
	if err != nil {
		logError(p.logger, opPreferencesPull, reasonMissingIdentity, err)
		return false, newServiceError(opPreferencesPull, reasonMissingIdentity, &remote.AuthError{Op: opPreferencesPull, Err: err})
	}

	remoteDoc, err := p.remote.PullPreferences(ctx, identity)
	if err != nil {
		reason := remoteReason(err)
		logError(p.logger, opPreferencesPull, reason, err, zap.String("user_id", identity.UserID))
		if remote.IsAuth(err) || p.document.Load(ctx).Doc == nil {
			return false, newServiceError(opPreferencesPull, reason, err)
		}
		return false, nil
	}

	now := cookbook.NowMillis(p.clock)
	if _, err := p.document.Update(ctx, func(current store.Snapshot[cookbook.PreferencesDoc]) (store.Snapshot[cookbook.PreferencesDoc], error) {
		return mergePreferences(current, remoteDoc, identity.UserID, now), nil
	}); err != nil {
		logError(p.logger, opPreferencesPull, reasonPersist, err)
		return false, newServiceError(opPreferencesPull, reasonPersist, err)
	}
	return remoteDoc != nil, nil
}

// Push uploads the local document unless it is clean and was last pushed for
// the current user. It reports whether a push was acknowledged.
func (p *Preferences) Push(ctx context.Context) (bool, error) {
	identity, err := p.credentials.Credentials(ctx)
	if err != nil {
		logError(p.logger, opPreferencesPush, reasonMissingIdentity, err)
		return false, newServiceError(opPreferencesPush, reasonMissingIdentity, &remote.AuthError{Op: opPreferencesPush, Err: err})
	}

	snapshot := p.document.Load(ctx)
	if snapshot.Doc == nil {
		return false, nil
	}
	if !snapshot.Meta.Dirty && snapshot.Meta.LastSyncedUID == identity.UserID {
		return false, nil
	}

	sent := snapshot.Doc.Normalize()
	if err := p.remote.PushPreferences(ctx, identity, sent); err != nil {
		reason := remoteReason(err)
		logError(p.logger, opPreferencesPush, reason, err, zap.String("user_id", identity.UserID))
		return false, newServiceError(opPreferencesPush, reason, err)
	}

	now := cookbook.NowMillis(p.clock)
	if _, err := p.document.Update(ctx, func(current store.Snapshot[cookbook.PreferencesDoc]) (store.Snapshot[cookbook.PreferencesDoc], error) {
		if current.Doc == nil || !sameContent(current.Doc.Normalize(), sent) {
			return current, nil
		}
		current.Meta.Dirty = false
		current.Meta.LastSyncedAt = &now
		current.Meta.LastSyncedUID = identity.UserID
		return current, nil
	}); err != nil {
		logError(p.logger, opPreferencesPush, reasonPersist, err)
		return false, newServiceError(opPreferencesPush, reasonPersist, err)
	}
	return true, nil
}

func mergePreferences(current store.Snapshot[cookbook.PreferencesDoc], remoteDoc *cookbook.PreferencesDoc, uid string, now int64) store.Snapshot[cookbook.PreferencesDoc] {
	next := current
	if remoteDoc == nil {
		if current.Doc != nil {
			next.Meta.Dirty = true
		}
		return next
	}

	if current.Doc == nil || remoteDoc.UpdatedAt >= current.Doc.UpdatedAt {
		unchanged := current.Doc != nil &&
			!current.Meta.Dirty &&
			current.Meta.LastSyncedUID == uid &&
			sameContent(current.Doc.Normalize(), *remoteDoc)
		if unchanged {
			return current
		}
		doc := *remoteDoc
		next.Doc = &doc
		next.Meta.Dirty = false
		next.Meta.LastSyncedAt = &now
		next.Meta.LastSyncedUID = uid
		return next
	}

	next.Meta.Dirty = true
	return next
}
