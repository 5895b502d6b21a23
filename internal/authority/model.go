package authority

// Recipe is the authoritative server-side copy of one recipe.
type Recipe struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_recipes_user_updated,priority:1"`
	RecipeID         string `gorm:"column:recipe_id;primaryKey;size:190;not null"`
	CreatedAtMs      int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs      int64  `gorm:"column:updated_at_ms;not null;index:idx_recipes_user_updated,priority:2"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	LastWriterDevice string `gorm:"column:last_writer_device;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Recipe) TableName() string {
	return "remote_recipes"
}

// RecipeChange captures an append-only audit trail for accepted recipe pushes.
type RecipeChange struct {
	ChangeID        string `gorm:"column:change_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;not null;index:idx_recipe_changes_user_time,priority:1"`
	RecipeID        string `gorm:"column:recipe_id;not null"`
	AppliedAtMs     int64  `gorm:"column:applied_at_ms;not null;index:idx_recipe_changes_user_time,priority:2"`
	ClientDevice    string `gorm:"column:client_device;size:190;not null"`
	ClientUpdatedMs int64  `gorm:"column:client_updated_ms;not null"`
	IsDeleted       bool   `gorm:"column:is_deleted;not null;default:false"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	PreviousVersion *int64 `gorm:"column:prev_version"`
	NewVersion      *int64 `gorm:"column:new_version"`
}

// TableName provides the explicit table binding for GORM.
func (RecipeChange) TableName() string {
	return "remote_recipe_changes"
}

// Preferences is the authoritative per-user preferences document.
type Preferences struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	UpdatedAtMs      int64  `gorm:"column:updated_at_ms;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	LastWriterDevice string `gorm:"column:last_writer_device;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Preferences) TableName() string {
	return "remote_preferences"
}

// RecipeOutcome captures the decision from resolveRecipe.
type RecipeOutcome struct {
	Accepted      bool
	UpdatedRecipe *Recipe
	AuditRecord   *RecipeChange
}
