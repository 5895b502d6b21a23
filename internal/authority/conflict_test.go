package authority

import (
	"testing"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
)

func TestResolveRecipeAcceptsNewerPush(t *testing.T) {
	existing := &Recipe{
		UserID:           "user-1",
		RecipeID:         "r1",
		CreatedAtMs:      100,
		UpdatedAtMs:      200,
		Version:          2,
		PayloadJSON:      `{"title":"stored"}`,
		LastWriterDevice: "phone",
	}
	incoming := cookbook.RecipeDoc{ID: "r1", Title: "incoming", CreatedAt: 100, UpdatedAt: 300}.Normalize()

	outcome, err := resolveRecipe(existing, incoming, "web", time.UnixMilli(400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted {
		t.Fatalf("expected push to be accepted")
	}
	if outcome.UpdatedRecipe.Version != 3 {
		t.Fatalf("expected version to increment to 3, got %d", outcome.UpdatedRecipe.Version)
	}
	if outcome.UpdatedRecipe.LastWriterDevice != "web" {
		t.Fatalf("expected device to update")
	}
	if outcome.UpdatedRecipe.UpdatedAtMs != 300 || outcome.UpdatedRecipe.CreatedAtMs != 100 {
		t.Fatalf("unexpected timestamps: %+v", outcome.UpdatedRecipe)
	}
	if outcome.AuditRecord == nil {
		t.Fatalf("expected audit record")
	}
	if outcome.AuditRecord.PreviousVersion == nil || *outcome.AuditRecord.PreviousVersion != 2 {
		t.Fatalf("unexpected previous version pointer: %#v", outcome.AuditRecord.PreviousVersion)
	}
	if outcome.AuditRecord.NewVersion == nil || *outcome.AuditRecord.NewVersion != 3 {
		t.Fatalf("unexpected audit versions: %#v", outcome.AuditRecord)
	}
}

func TestResolveRecipeRejectsOlderPush(t *testing.T) {
	existing := &Recipe{RecipeID: "r1", CreatedAtMs: 100, UpdatedAtMs: 500, Version: 6, PayloadJSON: `{}`}
	incoming := cookbook.RecipeDoc{ID: "r1", CreatedAt: 100, UpdatedAt: 400}

	outcome, err := resolveRecipe(existing, incoming, "tablet", time.UnixMilli(600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Accepted {
		t.Fatalf("expected older push to be rejected")
	}
	if outcome.UpdatedRecipe.Version != 6 {
		t.Fatalf("expected stored version to be reported, got %d", outcome.UpdatedRecipe.Version)
	}
	if outcome.AuditRecord != nil {
		t.Fatalf("expected no audit record for rejected push")
	}
}

func TestResolveRecipeAcceptsEqualTimestamp(t *testing.T) {
	existing := &Recipe{RecipeID: "r1", CreatedAtMs: 100, UpdatedAtMs: 500, Version: 1, PayloadJSON: `{}`}
	incoming := cookbook.RecipeDoc{ID: "r1", CreatedAt: 100, UpdatedAt: 500, IsDeleted: true}

	outcome, err := resolveRecipe(existing, incoming, "web", time.UnixMilli(600))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted || !outcome.UpdatedRecipe.IsDeleted {
		t.Fatalf("expected tombstone push with equal timestamp to be accepted")
	}
}

func TestResolveRecipeDefaultsMissingTimestamps(t *testing.T) {
	outcome, err := resolveRecipe(nil, cookbook.RecipeDoc{ID: "r1"}, "web", time.UnixMilli(700))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.UpdatedRecipe.UpdatedAtMs != 700 || outcome.UpdatedRecipe.CreatedAtMs != 700 {
		t.Fatalf("expected timestamps to default to apply time, got %+v", outcome.UpdatedRecipe)
	}
	if outcome.UpdatedRecipe.Version != 1 {
		t.Fatalf("expected first version, got %d", outcome.UpdatedRecipe.Version)
	}
	if outcome.AuditRecord.PreviousVersion != nil {
		t.Fatalf("expected no previous version for new recipe")
	}
}
