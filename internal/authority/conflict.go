package authority

import (
	"encoding/json"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
)

func resolveRecipe(existing *Recipe, incoming cookbook.RecipeDoc, device string, appliedAt time.Time) (RecipeOutcome, error) {
	stored := Recipe{
		RecipeID:    incoming.ID,
		CreatedAtMs: incoming.CreatedAt,
	}
	if existing != nil {
		stored = *existing
	}

	// Pushes carry client-normalized timestamps; equal timestamps accept the client copy.
	if existing != nil && incoming.UpdatedAt < stored.UpdatedAtMs {
		copyStored := stored
		return RecipeOutcome{Accepted: false, UpdatedRecipe: &copyStored}, nil
	}

	appliedAtMs := appliedAt.UnixMilli()
	updated := stored
	updated.LastWriterDevice = device
	updated.IsDeleted = incoming.IsDeleted
	updated.UpdatedAtMs = incoming.UpdatedAt
	if updated.UpdatedAtMs == 0 {
		updated.UpdatedAtMs = appliedAtMs
	}
	if updated.CreatedAtMs == 0 {
		if incoming.CreatedAt > 0 {
			updated.CreatedAtMs = incoming.CreatedAt
		} else {
			updated.CreatedAtMs = updated.UpdatedAtMs
		}
	}
	if updated.UpdatedAtMs < updated.CreatedAtMs {
		updated.CreatedAtMs = updated.UpdatedAtMs
	}

	payloadDoc := incoming.WithTimestamps(updated.CreatedAtMs, updated.UpdatedAtMs)
	payload, err := json.Marshal(payloadDoc)
	if err != nil {
		return RecipeOutcome{}, err
	}
	updated.PayloadJSON = string(payload)

	nextVersion := stored.Version + 1
	if nextVersion <= 0 {
		nextVersion = 1
	}
	updated.Version = nextVersion

	audit := &RecipeChange{
		RecipeID:        updated.RecipeID,
		AppliedAtMs:     appliedAtMs,
		ClientDevice:    device,
		ClientUpdatedMs: incoming.UpdatedAt,
		IsDeleted:       updated.IsDeleted,
		PayloadJSON:     updated.PayloadJSON,
		NewVersion:      pointerTo(updated.Version),
	}
	if stored.Version > 0 {
		audit.PreviousVersion = pointerTo(stored.Version)
	}

	return RecipeOutcome{
		Accepted:      true,
		UpdatedRecipe: &updated,
		AuditRecord:   audit,
	}, nil
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
