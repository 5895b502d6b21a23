package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware())
	router.POST("/sync/recipes/pull", func(c *gin.Context) {
		c.Header(headerCorrelationID, c.GetHeader(headerCorrelationID))
		c.Status(http.StatusOK)
	})
	return router
}

func containsHeader(list, name string) bool {
	for _, value := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return true
		}
	}
	return false
}

func TestCORSPreflightAllowsSyncHeaders(t *testing.T) {
	request := httptest.NewRequest(http.MethodOptions, "/sync/recipes/pull", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers",
		strings.Join([]string{"Authorization", headerDeviceID, headerEnvironment, headerCorrelationID}, ","))

	recorder := httptest.NewRecorder()
	newCORSRouter().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	for _, name := range []string{"Authorization", headerDeviceID, headerEnvironment, headerCorrelationID} {
		if !containsHeader(allowHeaders, name) {
			t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", name, allowHeaders)
		}
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSExposesCorrelationIDOnSyncResponses(t *testing.T) {
	request := httptest.NewRequest(http.MethodPost, "/sync/recipes/pull", strings.NewReader(`{"uid":"anon-1"}`))
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set(headerCorrelationID, "corr-42")

	recorder := httptest.NewRecorder()
	newCORSRouter().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", got)
	}
	exposed := recorder.Header().Get("Access-Control-Expose-Headers")
	if !containsHeader(exposed, headerCorrelationID) {
		t.Fatalf("expected %s to be exposed, got %q", headerCorrelationID, exposed)
	}
	if got := recorder.Header().Get(headerCorrelationID); got != "corr-42" {
		t.Fatalf("expected correlation id to round trip, got %q", got)
	}
}
