// Package remote talks to the authoritative store over HTTP and normalizes
// its payloads into the canonical cookbook types.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 1
	defaultRetryBackoff = 250 * time.Millisecond
	maxResponseBytes    = 16 << 20

	pathRecipesPull = "/sync/recipes/pull"
	pathRecipesPush = "/sync/recipes/push"
	pathPreferences = "/sync/preferences"

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerDeviceID      = "X-Device-ID"
	headerEnvironment   = "X-Environment"
	headerCorrelationID = "X-Correlation-ID"
	jsonContentType     = "application/json"

	opPullRecipes     = "remote.pull_recipes"
	opPushRecipes     = "remote.push_recipes"
	opPullPreferences = "remote.pull_preferences"
	opPushPreferences = "remote.push_preferences"
)

// Config carries everything the client needs. Nothing is read from the environment.
type Config struct {
	BaseURL      string
	Environment  string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	DeviceIDs    auth.DeviceIDProvider
	Logger       *zap.Logger
}

// Client issues pull and push requests against the remote store.
type Client struct {
	baseURL      string
	environment  string
	maxAttempts  int
	retryBackoff time.Duration
	httpClient   *http.Client
	deviceIDs    auth.DeviceIDProvider
	logger       *zap.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	deviceIDs := cfg.DeviceIDs
	if deviceIDs == nil {
		deviceIDs = auth.StaticDeviceID("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      baseURL,
		environment:  strings.TrimSpace(cfg.Environment),
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		httpClient:   httpClient,
		deviceIDs:    deviceIDs,
		logger:       logger,
	}, nil
}

// PullRecipes fetches the remote recipe snapshot for identity. Items that cannot
// be normalized are dropped and logged.
func (c *Client) PullRecipes(ctx context.Context, identity auth.Identity) ([]cookbook.RecipeDoc, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, &AuthError{Op: opPullRecipes, Err: errMissingUserID}
	}

	body, err := c.do(ctx, opPullRecipes, http.MethodPost, pathRecipesPull, identity, pullRequestPayload{UID: identity.UserID})
	if err != nil {
		return nil, err
	}

	var payload pullResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Op: opPullRecipes, Err: err}
	}

	recipes := make([]cookbook.RecipeDoc, 0, len(payload.Items))
	for position, raw := range payload.Items {
		recipe, err := DecodeRecipe(raw)
		if err != nil {
			c.logger.Warn("dropping malformed remote recipe",
				zap.String("operation", opPullRecipes),
				zap.Int("position", position),
				zap.Error(err))
			continue
		}
		recipes = append(recipes, recipe)
	}
	return recipes, nil
}

// PushRecipes uploads recipes. Any non-success status is a TransportError.
func (c *Client) PushRecipes(ctx context.Context, identity auth.Identity, recipes []cookbook.RecipeDoc) ([]PushResult, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, &AuthError{Op: opPushRecipes, Err: errMissingUserID}
	}

	body, err := c.do(ctx, opPushRecipes, http.MethodPost, pathRecipesPush, identity, pushRequestPayload{UID: identity.UserID, Items: recipes})
	if err != nil {
		return nil, err
	}

	var payload pushResponsePayload
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.logger.Debug("push acknowledgement body ignored", zap.Error(err))
		}
	}
	return payload.Results, nil
}

// PullPreferences fetches the remote preferences document, or nil when none exists.
func (c *Client) PullPreferences(ctx context.Context, identity auth.Identity) (*cookbook.PreferencesDoc, error) {
	if !identity.Authenticated() {
		return nil, &AuthError{Op: opPullPreferences, Err: errMissingToken}
	}

	body, err := c.do(ctx, opPullPreferences, http.MethodGet, pathPreferences, identity, nil)
	if err != nil {
		return nil, err
	}

	var payload preferencesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Op: opPullPreferences, Err: err}
	}
	if payload.Doc == nil {
		return nil, nil
	}
	doc := payload.Doc.Normalize()
	return &doc, nil
}

// PushPreferences uploads the preferences document.
func (c *Client) PushPreferences(ctx context.Context, identity auth.Identity, doc cookbook.PreferencesDoc) error {
	if !identity.Authenticated() {
		return &AuthError{Op: opPushPreferences, Err: errMissingToken}
	}
	_, err := c.do(ctx, opPushPreferences, http.MethodPost, pathPreferences, identity, preferencesPayload{Doc: &doc})
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, identity auth.Identity, payload any) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, &ParseError{Op: op, Err: err}
		}
	}

	deviceID, err := c.deviceIDs.DeviceID(ctx)
	if err != nil {
		c.logger.Warn("device id unavailable", zap.String("operation", op), zap.Error(err))
		deviceID = ""
	}
	correlationID := uuid.NewString()
	logger := c.logger.With(
		zap.String("operation", op),
		zap.String("correlation_id", correlationID))

	var body []byte
	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.retryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		if encoded != nil {
			request.Header.Set(headerContentType, jsonContentType)
		}
		if identity.Authenticated() {
			request.Header.Set(headerAuthorization, "Bearer "+identity.Token)
		}
		if deviceID != "" {
			request.Header.Set(headerDeviceID, deviceID)
		}
		if c.environment != "" {
			request.Header.Set(headerEnvironment, c.environment)
		}
		request.Header.Set(headerCorrelationID, correlationID)

		response, err := c.httpClient.Do(request)
		if err != nil {
			logger.Debug("remote request failed", zap.Error(err))
			return retry.RetryableError(&TransportError{Op: op, Err: err})
		}
		defer response.Body.Close()

		responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(&TransportError{Op: op, Status: response.StatusCode, Err: err})
		}

		switch {
		case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
			return &AuthError{Op: op, Status: response.StatusCode, Err: fmt.Errorf("%w: %s", errUnexpectedStatus, response.Status)}
		case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= http.StatusInternalServerError:
			logger.Debug("remote request rejected, retryable", zap.Int("status", response.StatusCode))
			return retry.RetryableError(&TransportError{Op: op, Status: response.StatusCode, Err: fmt.Errorf("%w: %s", errUnexpectedStatus, response.Status)})
		case response.StatusCode < 200 || response.StatusCode > 299:
			return &TransportError{Op: op, Status: response.StatusCode, Err: fmt.Errorf("%w: %s", errUnexpectedStatus, response.Status)}
		}

		body = responseBody
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
