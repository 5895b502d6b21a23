package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/database"
	"go.uber.org/zap"
)

type staticIDProvider struct {
	next int
}

func (p *staticIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("change-%d", p.next), nil
}

type testEnv struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenRemote(filepath.Join(t.TempDir(), "remote.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open remote database: %v", err)
	}
	service, err := authority.NewService(authority.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.UnixMilli(5_000) },
		IDProvider: &staticIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build authority service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "cookbook-test",
		Audience:      "cookbook-clients",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{Tokens: issuer, Authority: service})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testEnv{handler: handler, issuer: issuer}
}

func (e testEnv) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &body)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(headerDeviceID, "device-a")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestRecipesPushThenPullAnonymously(t *testing.T) {
	env := newTestEnv(t)

	push := env.do(t, http.MethodPost, "/sync/recipes/push", "", pushRequestPayload{
		UID: "anon-1",
		Items: []cookbook.RecipeDoc{
			{ID: "r1", Title: "Bread", CreatedAt: 100, UpdatedAt: 200},
			{ID: "r2", Title: "Gone", CreatedAt: 100, UpdatedAt: 300, IsDeleted: true},
		},
	})
	if push.Code != http.StatusOK {
		t.Fatalf("unexpected push status: %d body=%s", push.Code, push.Body.String())
	}
	var pushResponse pushResponsePayload
	if err := json.Unmarshal(push.Body.Bytes(), &pushResponse); err != nil {
		t.Fatalf("failed to decode push response: %v", err)
	}
	if len(pushResponse.Results) != 2 || !pushResponse.Results[0].Accepted || pushResponse.Results[0].Version != 1 {
		t.Fatalf("unexpected push results: %+v", pushResponse.Results)
	}

	stale := env.do(t, http.MethodPost, "/sync/recipes/push", "", pushRequestPayload{
		UID:   "anon-1",
		Items: []cookbook.RecipeDoc{{ID: "r1", Title: "Stale", CreatedAt: 100, UpdatedAt: 150}},
	})
	var staleResponse pushResponsePayload
	if err := json.Unmarshal(stale.Body.Bytes(), &staleResponse); err != nil {
		t.Fatalf("failed to decode push response: %v", err)
	}
	if staleResponse.Results[0].Accepted {
		t.Fatalf("expected stale push to be rejected")
	}

	pull := env.do(t, http.MethodPost, "/sync/recipes/pull", "", pullRequestPayload{UID: "anon-1"})
	if pull.Code != http.StatusOK {
		t.Fatalf("unexpected pull status: %d", pull.Code)
	}
	var pullResponse pullResponsePayload
	if err := json.Unmarshal(pull.Body.Bytes(), &pullResponse); err != nil {
		t.Fatalf("failed to decode pull response: %v", err)
	}
	if len(pullResponse.Items) != 2 {
		t.Fatalf("expected two recipes, got %d", len(pullResponse.Items))
	}
	byID := map[string]cookbook.RecipeDoc{}
	for _, item := range pullResponse.Items {
		byID[item.ID] = item
	}
	if byID["r1"].Title != "Bread" || byID["r1"].UpdatedAt != 200 {
		t.Fatalf("unexpected r1: %+v", byID["r1"])
	}
	if !byID["r2"].IsDeleted {
		t.Fatalf("expected tombstone to be returned")
	}

	other := env.do(t, http.MethodPost, "/sync/recipes/pull", "", pullRequestPayload{UID: "someone-else"})
	var otherResponse pullResponsePayload
	if err := json.Unmarshal(other.Body.Bytes(), &otherResponse); err != nil {
		t.Fatalf("failed to decode pull response: %v", err)
	}
	if len(otherResponse.Items) != 0 {
		t.Fatalf("expected recipes to be scoped per user")
	}
}

func TestRecipesPullRequiresUID(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodPost, "/sync/recipes/pull", "", pullRequestPayload{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRecipesBearerSubjectOverridesBodyUID(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.issuer.IssueToken(context.Background(), "real-2")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	env.do(t, http.MethodPost, "/sync/recipes/push", token, pushRequestPayload{
		UID:   "spoofed",
		Items: []cookbook.RecipeDoc{{ID: "r1", Title: "Mine", CreatedAt: 1, UpdatedAt: 2}},
	})

	pull := env.do(t, http.MethodPost, "/sync/recipes/pull", "", pullRequestPayload{UID: "real-2"})
	var pullResponse pullResponsePayload
	if err := json.Unmarshal(pull.Body.Bytes(), &pullResponse); err != nil {
		t.Fatalf("failed to decode pull response: %v", err)
	}
	if len(pullResponse.Items) != 1 {
		t.Fatalf("expected push to be stored under the token subject")
	}
}

func TestRecipesPushRejectsInvalidRecipe(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodPost, "/sync/recipes/push", "", pushRequestPayload{
		UID:   "anon-1",
		Items: []cookbook.RecipeDoc{{ID: " ", UpdatedAt: 1}},
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestPreferencesRequireBearer(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodGet, "/sync/preferences", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	empty := env.do(t, http.MethodGet, "/sync/preferences", token, nil)
	if empty.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", empty.Code)
	}
	var emptyResponse preferencesPayload
	if err := json.Unmarshal(empty.Body.Bytes(), &emptyResponse); err != nil {
		t.Fatalf("failed to decode preferences: %v", err)
	}
	if emptyResponse.Doc != nil {
		t.Fatalf("expected no preferences document, got %+v", emptyResponse.Doc)
	}

	post := env.do(t, http.MethodPost, "/sync/preferences", token, preferencesPayload{
		Doc: &cookbook.PreferencesDoc{Language: "pt", MeasurementUnit: cookbook.MeasurementImperial, UpdatedAt: 900},
	})
	if post.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", post.Code, post.Body.String())
	}

	older := env.do(t, http.MethodPost, "/sync/preferences", token, preferencesPayload{
		Doc: &cookbook.PreferencesDoc{Language: "en", UpdatedAt: 100},
	})
	var ack preferencesAckPayload
	if err := json.Unmarshal(older.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.Accepted {
		t.Fatalf("expected older preferences to be rejected")
	}

	got := env.do(t, http.MethodGet, "/sync/preferences", token, nil)
	var gotResponse preferencesPayload
	if err := json.Unmarshal(got.Body.Bytes(), &gotResponse); err != nil {
		t.Fatalf("failed to decode preferences: %v", err)
	}
	if gotResponse.Doc == nil || gotResponse.Doc.Language != "pt" || gotResponse.Doc.UpdatedAt != 900 {
		t.Fatalf("unexpected preferences: %+v", gotResponse.Doc)
	}
}
