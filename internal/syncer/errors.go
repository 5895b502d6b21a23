// Package syncer reconciles local collections with the remote store. Each
// synchronizer pulls, resolves per entity with last-write-wins, and pushes
// what is still dirty.
package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("local store is required")
	errMissingRemote      = errors.New("remote client is required")
	errMissingCredentials = errors.New("credential provider is required")
	noOpLogger            = zap.NewNop()
)

// ServiceError carries a dotted operation code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const (
	opRecipesNew      = "syncer.recipes.new"
	opRecipesPull     = "syncer.recipes.pull"
	opRecipesPush     = "syncer.recipes.push"
	opPreferencesNew  = "syncer.preferences.new"
	opPreferencesPull = "syncer.preferences.pull"
	opPreferencesPush = "syncer.preferences.push"

	reasonMissingIdentity = "missing_identity"
	reasonUnauthorized    = "unauthorized"
	reasonTransport       = "transport_failed"
	reasonParse           = "parse_failed"
	reasonPersist         = "persist_failed"
)

// Outcome summarizes one synchronizer pass.
type Outcome struct {
	Collection string
	Pulled     int
	Pushed     int
	Cleared    int
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("sync failure", attrs...)
}

// sameContent compares two documents by their canonical JSON encoding.
func sameContent(left, right any) bool {
	leftJSON, leftErr := json.Marshal(left)
	rightJSON, rightErr := json.Marshal(right)
	if leftErr != nil || rightErr != nil {
		return false
	}
	return bytes.Equal(leftJSON, rightJSON)
}
