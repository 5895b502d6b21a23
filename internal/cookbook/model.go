package cookbook

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecipeID indicates that a recipe identifier is empty or exceeds storage bounds.
	ErrInvalidRecipeID = errors.New("cookbook: invalid recipe id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("cookbook: invalid user id")
	// ErrInvalidTimestamp indicates that an epoch millisecond value is negative.
	ErrInvalidTimestamp = errors.New("cookbook: invalid timestamp")
)

// RecipeID represents a validated recipe identifier.
type RecipeID string

// NewRecipeID validates raw input and returns a RecipeID.
func NewRecipeID(rawInput string) (RecipeID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecipeID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecipeID, maxIdentifierLength)
	}
	return RecipeID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecipeID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// NowMillis returns the clock reading as epoch milliseconds.
func NowMillis(clock func() time.Time) int64 {
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().UnixMilli()
}

// ValidateMillis rejects negative epoch millisecond values.
func ValidateMillis(value int64) error {
	if value < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return nil
}

// Difficulty enumerates recipe difficulty levels.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
	DifficultyUnknown Difficulty = "unknown"
)

// ParseDifficulty maps free-form input onto a known difficulty, defaulting to unknown.
func ParseDifficulty(value string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(value))) {
	case DifficultyEasy:
		return DifficultyEasy
	case DifficultyMedium:
		return DifficultyMedium
	case DifficultyHard:
		return DifficultyHard
	default:
		return DifficultyUnknown
	}
}

// Cost enumerates recipe cost levels.
type Cost string

const (
	CostLow    Cost = "low"
	CostMedium Cost = "medium"
	CostHigh   Cost = "high"
)

// ParseCost maps free-form input onto a known cost. Unknown values yield nil.
func ParseCost(value string) *Cost {
	var cost Cost
	switch Cost(strings.ToLower(strings.TrimSpace(value))) {
	case CostLow:
		cost = CostLow
	case CostMedium:
		cost = CostMedium
	case CostHigh:
		cost = CostHigh
	default:
		return nil
	}
	return &cost
}

// RecipeDoc is the canonical recipe representation shared by the local store and the wire.
type RecipeDoc struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	ImageURL           *string    `json:"imageUrl"`
	CreatedAt          int64      `json:"createdAt"`
	UpdatedAt          int64      `json:"updatedAt"`
	CookingTimeMinutes *int       `json:"cookingTimeMinutes"`
	Difficulty         Difficulty `json:"difficulty"`
	Servings           *int       `json:"servings"`
	Cost               *Cost      `json:"cost"`
	Ingredients        []string   `json:"ingredients"`
	Steps              []string   `json:"steps"`
	CookbookIDs        []string   `json:"cookbookIds"`
	Tags               []string   `json:"tags"`
	IsDeleted          bool       `json:"isDeleted"`
}

// EntityID returns the recipe identifier.
func (r RecipeDoc) EntityID() string {
	return r.ID
}

// UpdatedAtMillis returns the last-write timestamp used for conflict resolution.
func (r RecipeDoc) UpdatedAtMillis() int64 {
	return r.UpdatedAt
}

// Tombstoned reports whether the recipe is soft-deleted.
func (r RecipeDoc) Tombstoned() bool {
	return r.IsDeleted
}

// AsTombstone returns a soft-deleted copy stamped with updatedAt.
func (r RecipeDoc) AsTombstone(updatedAt int64) RecipeDoc {
	deleted := r.Clone()
	deleted.IsDeleted = true
	deleted.UpdatedAt = updatedAt
	return deleted.Normalize()
}

// Clone returns a deep copy so callers can mutate slices safely.
func (r RecipeDoc) Clone() RecipeDoc {
	out := r
	out.Ingredients = cloneStrings(r.Ingredients)
	out.Steps = cloneStrings(r.Steps)
	out.CookbookIDs = cloneStrings(r.CookbookIDs)
	out.Tags = cloneStrings(r.Tags)
	if r.ImageURL != nil {
		value := *r.ImageURL
		out.ImageURL = &value
	}
	if r.CookingTimeMinutes != nil {
		value := *r.CookingTimeMinutes
		out.CookingTimeMinutes = &value
	}
	if r.Servings != nil {
		value := *r.Servings
		out.Servings = &value
	}
	if r.Cost != nil {
		value := *r.Cost
		out.Cost = &value
	}
	return out
}

// Normalize returns a copy with canonical list values, a known difficulty and
// createdAt clamped so that updatedAt >= createdAt holds.
func (r RecipeDoc) Normalize() RecipeDoc {
	out := r.Clone()
	out.ID = strings.TrimSpace(out.ID)
	out.Difficulty = ParseDifficulty(string(out.Difficulty))
	if out.Cost != nil {
		out.Cost = ParseCost(string(*out.Cost))
	}
	out.Ingredients = nonNilStrings(out.Ingredients)
	out.Steps = nonNilStrings(out.Steps)
	out.CookbookIDs = dedupeStrings(out.CookbookIDs)
	out.Tags = nonNilStrings(out.Tags)
	if out.CreatedAt > 0 && out.UpdatedAt < out.CreatedAt {
		out.UpdatedAt = out.CreatedAt
	}
	return out
}

// WithTimestamps returns a copy carrying the provided timestamps. A zero createdAt
// defaults to updatedAt.
func (r RecipeDoc) WithTimestamps(createdAt, updatedAt int64) RecipeDoc {
	out := r.Clone()
	if createdAt <= 0 {
		createdAt = updatedAt
	}
	out.CreatedAt = createdAt
	out.UpdatedAt = updatedAt
	return out.Normalize()
}

// Validate checks the invariants a recipe must satisfy before it is persisted.
func (r RecipeDoc) Validate() error {
	if _, err := NewRecipeID(r.ID); err != nil {
		return err
	}
	if err := ValidateMillis(r.CreatedAt); err != nil {
		return err
	}
	if err := ValidateMillis(r.UpdatedAt); err != nil {
		return err
	}
	if r.UpdatedAt < r.CreatedAt {
		return fmt.Errorf("%w: updatedAt %d precedes createdAt %d", ErrInvalidTimestamp, r.UpdatedAt, r.CreatedAt)
	}
	return nil
}

// MeasurementUnit enumerates supported measurement systems.
type MeasurementUnit string

const (
	MeasurementMetric   MeasurementUnit = "metric"
	MeasurementImperial MeasurementUnit = "imperial"
)

// ThemeMode enumerates supported UI themes.
type ThemeMode string

const (
	ThemeSystem ThemeMode = "system"
	ThemeLight  ThemeMode = "light"
	ThemeDark   ThemeMode = "dark"
)

// PreferencesDoc is the single per-user preferences document.
type PreferencesDoc struct {
	Dietary         []string        `json:"dietary"`
	Avoid           []string        `json:"avoid"`
	AvoidOther      string          `json:"avoidOther"`
	MeasurementUnit MeasurementUnit `json:"measurementUnit"`
	ThemeMode       ThemeMode       `json:"themeMode"`
	Language        string          `json:"language"`
	UpdatedAt       int64           `json:"updatedAt"`
}

// UpdatedAtMillis returns the last-write timestamp used for conflict resolution.
func (p PreferencesDoc) UpdatedAtMillis() int64 {
	return p.UpdatedAt
}

// Normalize returns a copy with canonical list and enum values.
func (p PreferencesDoc) Normalize() PreferencesDoc {
	out := p
	out.Dietary = nonNilStrings(cloneStrings(p.Dietary))
	out.Avoid = nonNilStrings(cloneStrings(p.Avoid))
	switch MeasurementUnit(strings.ToLower(string(p.MeasurementUnit))) {
	case MeasurementImperial:
		out.MeasurementUnit = MeasurementImperial
	default:
		out.MeasurementUnit = MeasurementMetric
	}
	switch ThemeMode(strings.ToLower(string(p.ThemeMode))) {
	case ThemeLight:
		out.ThemeMode = ThemeLight
	case ThemeDark:
		out.ThemeMode = ThemeDark
	default:
		out.ThemeMode = ThemeSystem
	}
	out.Language = strings.TrimSpace(p.Language)
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
