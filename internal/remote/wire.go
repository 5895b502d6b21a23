package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
)

var errMissingItemID = errors.New("item id missing")

type pullRequestPayload struct {
	UID string `json:"uid"`
}

type pullResponsePayload struct {
	Items []json.RawMessage `json:"items"`
}

type pushRequestPayload struct {
	UID   string               `json:"uid"`
	Items []cookbook.RecipeDoc `json:"items"`
}

type pushResponsePayload struct {
	Results []PushResult `json:"results"`
}

// PushResult is the per-recipe acknowledgement returned by the remote store.
type PushResult struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Version  int64  `json:"version"`
}

type preferencesPayload struct {
	Doc *cookbook.PreferencesDoc `json:"doc"`
}

// envelopeFields covers the nested item shape {id, data:{...}} plus the
// sync fields some servers hoist next to it.
type envelopeFields struct {
	ID        json.RawMessage `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt *int64          `json:"updatedAt"`
	IsDeleted *bool           `json:"isDeleted"`
}

// DecodeRecipe normalizes either wire shape, {id, ...fields} or
// {id, data: {...fields}}, into a RecipeDoc.
func DecodeRecipe(raw json.RawMessage) (cookbook.RecipeDoc, error) {
	var envelope envelopeFields
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return cookbook.RecipeDoc{}, err
	}

	var recipe cookbook.RecipeDoc
	nested := len(bytes.TrimSpace(envelope.Data)) > 0 && bytes.TrimSpace(envelope.Data)[0] == '{'
	if nested {
		if err := json.Unmarshal(envelope.Data, &recipe); err != nil {
			return cookbook.RecipeDoc{}, fmt.Errorf("nested data: %w", err)
		}
		if recipe.UpdatedAt == 0 && envelope.UpdatedAt != nil {
			recipe.UpdatedAt = *envelope.UpdatedAt
		}
		if envelope.IsDeleted != nil && *envelope.IsDeleted {
			recipe.IsDeleted = true
		}
	} else if err := json.Unmarshal(raw, &recipe); err != nil {
		return cookbook.RecipeDoc{}, err
	}

	if recipe.ID == "" {
		var outerID string
		if err := json.Unmarshal(envelope.ID, &outerID); err == nil {
			recipe.ID = outerID
		}
	}
	if _, err := cookbook.NewRecipeID(recipe.ID); err != nil {
		return cookbook.RecipeDoc{}, fmt.Errorf("%w: %v", errMissingItemID, err)
	}
	return recipe.Normalize(), nil
}
