package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogLevelFollowsFailureKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{name: "expired", err: jwt.ErrTokenExpired, wantLevel: zapcore.InfoLevel},
		{name: "signature", err: errors.New("signature mismatch"), wantLevel: zapcore.WarnLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/sync/preferences", http.NoBody)
			request.Header.Set("Authorization", "Bearer "+tc.name+"-token")
			ctx.Request = request

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				tokens: stubTokenValidator{validateErr: tc.err},
				logger: zap.New(core),
			}

			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			entries := logs.FilterMessage("token validation failed").All()
			if len(entries) != 1 {
				t.Fatalf("expected exactly one validation log entry, got %d", len(entries))
			}
			if entries[0].Level != tc.wantLevel {
				t.Fatalf("unexpected log level %s, want %s", entries[0].Level, tc.wantLevel)
			}
			found := false
			for _, field := range entries[0].Context {
				if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), tc.err) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected error context, got %v", entries[0].Context)
			}
		})
	}
}

func TestAuthorizeRequestRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/sync/preferences", http.NoBody)

	handler := &httpHandler{tokens: stubTokenValidator{subject: "user-1"}, logger: zap.NewNop()}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestAuthorizeRequestStoresSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/sync/preferences", http.NoBody)
	request.Header.Set("Authorization", "Bearer good-token")
	ctx.Request = request

	handler := &httpHandler{tokens: stubTokenValidator{subject: "user-1"}, logger: zap.NewNop()}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("valid token was rejected with status %d", recorder.Code)
	}
	if got := ctx.GetString(userIDContextKey); got != "user-1" {
		t.Fatalf("unexpected user id in context %q", got)
	}
}

func TestIdentifyRequestAllowsAnonymousCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/sync/recipes/pull", http.NoBody)

	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: errors.New("must not be called")},
		logger: zap.NewNop(),
	}

	handler.identifyRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("anonymous request was aborted with status %d", recorder.Code)
	}
	if ctx.GetString(userIDContextKey) != "" {
		t.Fatalf("expected no user id for anonymous request")
	}
}

func TestIdentifyRequestRejectsInvalidBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sync/recipes/pull", http.NoBody)
	request.Header.Set("Authorization", "Basic abc")
	ctx.Request = request

	handler := &httpHandler{tokens: stubTokenValidator{}, logger: zap.NewNop()}

	handler.identifyRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

type stubTokenValidator struct {
	subject     string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (string, error) {
	return s.subject, s.validateErr
}
