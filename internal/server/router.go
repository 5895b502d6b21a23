// Package server exposes the authoritative recipe and preferences store over
// HTTP for sync clients.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "cookbook_user_id"

	headerDeviceID      = "X-Device-ID"
	headerEnvironment   = "X-Environment"
	headerCorrelationID = "X-Correlation-ID"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingAuthority      = errors.New("authority service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to its user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Tokens    TokenValidator
	Authority *authority.Service
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Authority == nil {
		return nil, errMissingAuthority
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.Tokens,
		authority: deps.Authority,
		logger:    logger,
	}

	recipes := router.Group("/sync/recipes")
	recipes.Use(handler.identifyRequest)
	recipes.POST("/pull", handler.handleRecipesPull)
	recipes.POST("/push", handler.handleRecipesPush)

	preferences := router.Group("/sync/preferences")
	preferences.Use(handler.authorizeRequest)
	preferences.GET("", handler.handlePreferencesGet)
	preferences.POST("", handler.handlePreferencesPost)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", headerDeviceID, headerEnvironment, headerCorrelationID},
		ExposeHeaders:    []string{headerCorrelationID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenValidator
	authority *authority.Service
	logger    *zap.Logger
}

type pullRequestPayload struct {
	UID string `json:"uid"`
}

type pullResponsePayload struct {
	Items []cookbook.RecipeDoc `json:"items"`
}

type pushRequestPayload struct {
	UID   string               `json:"uid"`
	Items []cookbook.RecipeDoc `json:"items"`
}

type pushResponsePayload struct {
	Results []pushResultPayload `json:"results"`
}

type pushResultPayload struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Version  int64  `json:"version"`
}

type preferencesPayload struct {
	Doc *cookbook.PreferencesDoc `json:"doc"`
}

type preferencesAckPayload struct {
	Accepted bool `json:"accepted"`
}

func (h *httpHandler) handleRecipesPull(c *gin.Context) {
	var request pullRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, ok := h.resolveUser(c, request.UID)
	if !ok {
		return
	}

	recipes, err := h.authority.ListRecipes(c.Request.Context(), userID)
	if err != nil {
		h.requestLogger(c).Error("failed to list recipes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}
	c.JSON(http.StatusOK, pullResponsePayload{Items: recipes})
}

func (h *httpHandler) handleRecipesPush(c *gin.Context) {
	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, ok := h.resolveUser(c, request.UID)
	if !ok {
		return
	}
	for _, item := range request.Items {
		if err := item.Normalize().Validate(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_recipe", "id": item.ID})
			return
		}
	}

	result, err := h.authority.ApplyRecipes(c.Request.Context(), userID, c.GetHeader(headerDeviceID), request.Items)
	if err != nil {
		h.requestLogger(c).Error("failed to apply recipes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	response := pushResponsePayload{Results: make([]pushResultPayload, 0, len(result.Results))}
	for _, outcome := range result.Results {
		response.Results = append(response.Results, pushResultPayload{
			ID:       outcome.RecipeID,
			Accepted: outcome.Accepted,
			Version:  outcome.Version,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePreferencesGet(c *gin.Context) {
	userID, err := cookbook.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	doc, err := h.authority.GetPreferences(c.Request.Context(), userID)
	if err != nil {
		h.requestLogger(c).Error("failed to load preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}
	c.JSON(http.StatusOK, preferencesPayload{Doc: doc})
}

func (h *httpHandler) handlePreferencesPost(c *gin.Context) {
	userID, err := cookbook.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request preferencesPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Doc == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.authority.PutPreferences(c.Request.Context(), userID, c.GetHeader(headerDeviceID), *request.Doc)
	if err != nil {
		h.requestLogger(c).Error("failed to store preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}
	c.JSON(http.StatusOK, preferencesAckPayload{Accepted: accepted})
}

// resolveUser prefers the bearer subject and falls back to the uid in the body
// for anonymous clients.
func (h *httpHandler) resolveUser(c *gin.Context, bodyUID string) (cookbook.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	if raw == "" {
		raw = bodyUID
	}
	userID, err := cookbook.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_uid"})
		return "", false
	}
	return userID, true
}

// identifyRequest validates a bearer token when one is sent but lets anonymous
// requests through.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.Next()
		return
	}
	h.authorizeRequest(c)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requestLogger(c *gin.Context) *zap.Logger {
	return h.logger.With(
		zap.String("path", c.FullPath()),
		zap.String("device_id", c.GetHeader(headerDeviceID)),
		zap.String("environment", c.GetHeader(headerEnvironment)),
		zap.String("correlation_id", c.GetHeader(headerCorrelationID)))
}
