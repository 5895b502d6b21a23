// Package authority is the authoritative remote store for recipes and
// preferences. It applies client pushes with whole-entity last-write-wins and
// keeps an audit trail of accepted recipe changes.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

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

const (
	opServiceNew       = "authority.service.new"
	opApplyRecipes     = "authority.apply_recipes"
	opListRecipes      = "authority.list_recipes"
	opGetPreferences   = "authority.get_preferences"
	opPutPreferences   = "authority.put_preferences"
	fieldUserID        = "user_id"
	fieldRecipeID      = "recipe_id"
	queryUserID        = fieldUserID + " = ?"
	queryUserRecipe    = fieldUserID + " = ? AND " + fieldRecipeID + " = ?"
	orderUpdatedAtDesc = "updated_at_ms DESC"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider cookbook.IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider cookbook.IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecipeResult reports the stored state for one pushed recipe.
type RecipeResult struct {
	RecipeID string
	Accepted bool
	Version  int64
}

// PushResult aggregates outcomes for a recipe push.
type PushResult struct {
	Results []RecipeResult
}

// ApplyRecipes stores pushed recipes in one transaction.
func (s *Service) ApplyRecipes(ctx context.Context, userID cookbook.UserID, device string, recipes []cookbook.RecipeDoc) (PushResult, error) {
	if s.db == nil {
		s.logError(opApplyRecipes, "missing_database", errMissingDatabase)
		return PushResult{}, newServiceError(opApplyRecipes, "missing_database", errMissingDatabase)
	}

	result := PushResult{Results: make([]RecipeResult, 0, len(recipes))}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, incoming := range recipes {
			recipeID, err := cookbook.NewRecipeID(incoming.ID)
			if err != nil {
				s.logError(opApplyRecipes, "invalid_recipe_id", err, zap.String(fieldUserID, userID.String()))
				return newServiceError(opApplyRecipes, "invalid_recipe_id", err)
			}
			incoming.ID = recipeID.String()

			var existing Recipe
			var existingPtr *Recipe
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where(queryUserRecipe, userID.String(), recipeID.String()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opApplyRecipes, "recipe_select_failed", err,
					zap.String(fieldUserID, userID.String()),
					zap.String(fieldRecipeID, recipeID.String()))
				return newServiceError(opApplyRecipes, "recipe_select_failed", err)
			} else {
				existingPtr = &existing
			}

			outcome, err := resolveRecipe(existingPtr, incoming.Normalize(), device, s.clock().UTC())
			if err != nil {
				s.logError(opApplyRecipes, "resolve_recipe_failed", err,
					zap.String(fieldUserID, userID.String()),
					zap.String(fieldRecipeID, recipeID.String()))
				return newServiceError(opApplyRecipes, "resolve_recipe_failed", err)
			}

			if outcome.Accepted {
				outcome.UpdatedRecipe.UserID = userID.String()
				outcome.UpdatedRecipe.RecipeID = recipeID.String()
				if err := tx.Save(outcome.UpdatedRecipe).Error; err != nil {
					s.logError(opApplyRecipes, "recipe_save_failed", err,
						zap.String(fieldUserID, userID.String()),
						zap.String(fieldRecipeID, recipeID.String()))
					return newServiceError(opApplyRecipes, "recipe_save_failed", err)
				}

				changeID, err := s.idProvider.NewID()
				if err != nil {
					s.logError(opApplyRecipes, "id_generation_failed", err,
						zap.String(fieldUserID, userID.String()),
						zap.String(fieldRecipeID, recipeID.String()))
					return newServiceError(opApplyRecipes, "id_generation_failed", err)
				}
				outcome.AuditRecord.ChangeID = changeID
				outcome.AuditRecord.UserID = userID.String()
				outcome.AuditRecord.RecipeID = recipeID.String()
				if err := tx.Create(outcome.AuditRecord).Error; err != nil {
					s.logError(opApplyRecipes, "audit_insert_failed", err,
						zap.String(fieldUserID, userID.String()),
						zap.String(fieldRecipeID, recipeID.String()))
					return newServiceError(opApplyRecipes, "audit_insert_failed", err)
				}
			}

			result.Results = append(result.Results, RecipeResult{
				RecipeID: recipeID.String(),
				Accepted: outcome.Accepted,
				Version:  outcome.UpdatedRecipe.Version,
			})
		}
		return nil
	})
	if txErr != nil {
		return PushResult{}, txErr
	}
	return result, nil
}

// ListRecipes returns every stored recipe for the user, tombstones included.
func (s *Service) ListRecipes(ctx context.Context, userID cookbook.UserID) ([]cookbook.RecipeDoc, error) {
	if s.db == nil {
		s.logError(opListRecipes, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListRecipes, "missing_database", errMissingDatabase)
	}

	var rows []Recipe
	if err := s.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order(orderUpdatedAtDesc).
		Find(&rows).Error; err != nil {
		s.logError(opListRecipes, "query_failed", err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListRecipes, "query_failed", err)
	}

	recipes := make([]cookbook.RecipeDoc, 0, len(rows))
	for _, row := range rows {
		var recipe cookbook.RecipeDoc
		if err := json.Unmarshal([]byte(row.PayloadJSON), &recipe); err != nil {
			s.logError(opListRecipes, "payload_invalid", err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldRecipeID, row.RecipeID))
			return nil, newServiceError(opListRecipes, "payload_invalid", err)
		}
		recipe.ID = row.RecipeID
		recipe.IsDeleted = row.IsDeleted
		recipes = append(recipes, recipe.WithTimestamps(row.CreatedAtMs, row.UpdatedAtMs))
	}
	return recipes, nil
}

// GetPreferences returns the stored preferences or nil when none exist.
func (s *Service) GetPreferences(ctx context.Context, userID cookbook.UserID) (*cookbook.PreferencesDoc, error) {
	if s.db == nil {
		s.logError(opGetPreferences, "missing_database", errMissingDatabase)
		return nil, newServiceError(opGetPreferences, "missing_database", errMissingDatabase)
	}

	var row Preferences
	err := s.db.WithContext(ctx).Where(queryUserID, userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGetPreferences, "query_failed", err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opGetPreferences, "query_failed", err)
	}

	var doc cookbook.PreferencesDoc
	if err := json.Unmarshal([]byte(row.PayloadJSON), &doc); err != nil {
		s.logError(opGetPreferences, "payload_invalid", err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opGetPreferences, "payload_invalid", err)
	}
	doc.UpdatedAt = row.UpdatedAtMs
	return &doc, nil
}

// PutPreferences stores doc unless the stored copy is strictly newer. It reports
// whether the incoming document was accepted.
func (s *Service) PutPreferences(ctx context.Context, userID cookbook.UserID, device string, doc cookbook.PreferencesDoc) (bool, error) {
	if s.db == nil {
		s.logError(opPutPreferences, "missing_database", errMissingDatabase)
		return false, newServiceError(opPutPreferences, "missing_database", errMissingDatabase)
	}

	doc = doc.Normalize()
	if doc.UpdatedAt <= 0 {
		doc.UpdatedAt = s.clock().UTC().UnixMilli()
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		s.logError(opPutPreferences, "payload_encode_failed", err, zap.String(fieldUserID, userID.String()))
		return false, newServiceError(opPutPreferences, "payload_encode_failed", err)
	}

	accepted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Preferences
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryUserID, userID.String()).
			Take(&existing).Error
		found := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}
		if found && doc.UpdatedAt < existing.UpdatedAtMs {
			return nil
		}

		row := Preferences{
			UserID:           userID.String(),
			UpdatedAtMs:      doc.UpdatedAt,
			PayloadJSON:      string(payload),
			Version:          existing.Version + 1,
			LastWriterDevice: device,
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if txErr != nil {
		s.logError(opPutPreferences, "save_failed", txErr, zap.String(fieldUserID, userID.String()))
		return false, newServiceError(opPutPreferences, "save_failed", txErr)
	}
	return accepted, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("authority service error", attrs...)
}
