// Package recipes owns the live recipe aggregate: component and scalar
// mutations, validation of component references, cost recomputation, and the
// versioning hook that snapshots every committed change. All writes to one
// recipe serialize on a per-recipe mutex; the database transaction makes the
// mutation, the recompute, and the new version land or fail together.
package recipes

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mise/internal/costing"
	applog "mise/internal/log"
	"mise/internal/units"
	"mise/internal/versioning"
	"mise/models"
)

var (
	// ErrRecipeNotFound is returned when the recipe does not exist.
	ErrRecipeNotFound = errors.New("recipes: recipe not found")
	// ErrComponentNotFound is returned when the component row does not
	// exist on the recipe.
	ErrComponentNotFound = errors.New("recipes: component not found")
	// ErrCyclicSubRecipe rejects an edit that would make a recipe a
	// transitive ancestor of itself.
	ErrCyclicSubRecipe = errors.New("recipes: component would create a sub-recipe cycle")
	// ErrNotBaseRecipe rejects sub-recipe references to non-base recipes.
	// Only base recipes may be nested, regardless of the parent's kind.
	ErrNotBaseRecipe = errors.New("recipes: only base recipes may be used as components")
	// ErrInvalidComponent covers malformed component input: non-positive
	// quantity, unknown unit, or a reference that is not exactly one of
	// ingredient / sub-recipe.
	ErrInvalidComponent = errors.New("recipes: invalid component")
	// ErrInvalidSettings covers out-of-range scalar settings.
	ErrInvalidSettings = errors.New("recipes: invalid settings")
	// ErrRecipeInUse rejects deleting a recipe other recipes still use.
	ErrRecipeInUse = errors.New("recipes: recipe is used as a sub-recipe")
)

// Service coordinates recipe mutations.
type Service struct {
	db        *gorm.DB
	versions  *versioning.Store
	retention int
	locks     *recipeLocks
}

// NewService wires the recipe service. retention > 0 enables opportunistic
// version pruning after each commit.
func NewService(db *gorm.DB, versions *versioning.Store, retention int) *Service {
	return &Service{
		db:        db,
		versions:  versions,
		retention: retention,
		locks:     newRecipeLocks(),
	}
}

// RecipeInput carries the authorable scalar fields of a recipe.
type RecipeInput struct {
	Name               string
	Category           string
	IsBase             bool
	Servings           int
	YieldAmount        *float64
	YieldUnit          string
	WasteBufferPercent float64
	TargetCostPercent  float64
	SellingPrice       float64
	Currency           string
}

// ComponentInput describes a component to add.
type ComponentInput struct {
	IngredientID *uint
	SubRecipeID  *uint
	Quantity     float64
	Unit         string
	Notes        string
}

// SettingsInput updates cost-relevant scalars. Nil fields are left alone.
type SettingsInput struct {
	Name               *string
	Category           *string
	Servings           *int
	YieldAmount        *float64
	YieldUnit          *string
	WasteBufferPercent *float64
	TargetCostPercent  *float64
	SellingPrice       *float64
	Currency           *string
}

// CommitMeta is the audit metadata stamped on the version a mutation creates.
type CommitMeta struct {
	Reason string
	Notes  string
	Author string
}

// CommitResult returns the recipe after a committed mutation along with any
// line-scoped costing errors. Line errors degrade the totals, they do not
// fail the commit.
type CommitResult struct {
	Recipe     *models.Recipe
	Version    *models.RecipeVersion
	LineErrors []costing.LineError
}

// Create inserts a new recipe and records version 1.
func (s *Service) Create(ctx context.Context, input RecipeInput, meta CommitMeta) (*CommitResult, error) {
	if err := validateRecipeInput(input); err != nil {
		return nil, err
	}

	recipe := models.Recipe{
		Name:               input.Name,
		Category:           input.Category,
		IsBase:             input.IsBase,
		Servings:           input.Servings,
		YieldAmount:        input.YieldAmount,
		YieldUnit:          input.YieldUnit,
		WasteBufferPercent: input.WasteBufferPercent,
		TargetCostPercent:  input.TargetCostPercent,
		SellingPrice:       input.SellingPrice,
		Currency:           input.Currency,
	}
	if recipe.Servings <= 0 {
		recipe.Servings = 1
	}
	if recipe.Currency == "" {
		recipe.Currency = "USD"
	}

	if err := s.db.WithContext(ctx).Create(&recipe).Error; err != nil {
		return nil, fmt.Errorf("create recipe: %w", err)
	}

	if meta.Reason == "" {
		meta.Reason = "Initial version"
	}
	return s.commit(ctx, recipe.ID, meta, func(*gorm.DB, *models.Recipe) error { return nil })
}

// Get loads a recipe with its components and their references.
func (s *Service) Get(ctx context.Context, recipeID uint) (*models.Recipe, error) {
	var recipe models.Recipe
	err := s.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB { return db.Order("recipe_components.id asc") }).
		Preload("Components.Ingredient").
		Preload("Components.SubRecipe").
		First(&recipe, recipeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecipeNotFound, recipeID)
		}
		return nil, err
	}
	return &recipe, nil
}

// List returns all recipes ordered by name.
func (s *Service) List(ctx context.Context) ([]models.Recipe, error) {
	var recipes []models.Recipe
	if err := s.db.WithContext(ctx).Order("name asc").Find(&recipes).Error; err != nil {
		return nil, err
	}
	return recipes, nil
}

// Delete removes a recipe unless another recipe still uses it as a
// sub-recipe.
func (s *Service) Delete(ctx context.Context, recipeID uint) error {
	lock := s.locks.lock(recipeID)
	defer lock.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipe models.Recipe
		if err := tx.First(&recipe, recipeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrRecipeNotFound, recipeID)
			}
			return err
		}

		var dependents int64
		if err := tx.Model(&models.RecipeComponent{}).
			Where("sub_recipe_id = ?", recipeID).
			Count(&dependents).Error; err != nil {
			return err
		}
		if dependents > 0 {
			return fmt.Errorf("%w: %d dependent component(s)", ErrRecipeInUse, dependents)
		}

		if err := tx.Where("recipe_id = ?", recipeID).Delete(&models.RecipeComponent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&recipe).Error
	})
}

// AddComponent appends a component after validating its reference, the
// base-recipe nesting rule, and acyclicity, then recomputes and versions.
func (s *Service) AddComponent(ctx context.Context, recipeID uint, input ComponentInput, meta CommitMeta) (*CommitResult, error) {
	if err := validateComponentInput(input); err != nil {
		return nil, err
	}
	if meta.Reason == "" {
		meta.Reason = "Component added"
	}

	return s.commit(ctx, recipeID, meta, func(tx *gorm.DB, recipe *models.Recipe) error {
		if input.SubRecipeID != nil {
			if err := s.validateSubRecipeReference(ctx, tx, recipe, *input.SubRecipeID); err != nil {
				return err
			}
		} else {
			var ingredient models.Ingredient
			if err := tx.First(&ingredient, *input.IngredientID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: ingredient %d does not exist", ErrInvalidComponent, *input.IngredientID)
				}
				return err
			}
		}

		component := models.RecipeComponent{
			RecipeID:     recipe.ID,
			IngredientID: input.IngredientID,
			SubRecipeID:  input.SubRecipeID,
			Quantity:     input.Quantity,
			Unit:         input.Unit,
			Notes:        input.Notes,
		}
		return tx.Create(&component).Error
	})
}

// UpdateComponent changes a component's quantity and unit, then recomputes
// and versions.
func (s *Service) UpdateComponent(ctx context.Context, recipeID, componentID uint, quantity float64, unit string, meta CommitMeta) (*CommitResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidComponent)
	}
	if _, known := units.Normalize(unit); !known {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidComponent, unit)
	}
	if meta.Reason == "" {
		meta.Reason = "Component updated"
	}

	return s.commit(ctx, recipeID, meta, func(tx *gorm.DB, recipe *models.Recipe) error {
		var component models.RecipeComponent
		err := tx.Where("recipe_id = ?", recipe.ID).First(&component, componentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrComponentNotFound, componentID)
			}
			return err
		}
		return tx.Model(&component).Updates(map[string]any{
			"quantity": quantity,
			"unit":     unit,
		}).Error
	})
}

// RemoveComponent deletes a component row, then recomputes and versions. The
// row is removed for good; re-adding the same ingredient later creates a new
// stable identifier.
func (s *Service) RemoveComponent(ctx context.Context, recipeID, componentID uint, meta CommitMeta) (*CommitResult, error) {
	if meta.Reason == "" {
		meta.Reason = "Component removed"
	}

	return s.commit(ctx, recipeID, meta, func(tx *gorm.DB, recipe *models.Recipe) error {
		result := tx.Unscoped().
			Where("recipe_id = ? AND id = ?", recipe.ID, componentID).
			Delete(&models.RecipeComponent{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrComponentNotFound, componentID)
		}
		return nil
	})
}

// UpdateSettings applies scalar changes, then recomputes and versions.
func (s *Service) UpdateSettings(ctx context.Context, recipeID uint, input SettingsInput, meta CommitMeta) (*CommitResult, error) {
	if err := validateSettingsInput(input); err != nil {
		return nil, err
	}
	if meta.Reason == "" {
		meta.Reason = "Settings updated"
	}

	return s.commit(ctx, recipeID, meta, func(tx *gorm.DB, recipe *models.Recipe) error {
		updates := map[string]any{}
		if input.Name != nil {
			updates["name"] = *input.Name
		}
		if input.Category != nil {
			updates["category"] = *input.Category
		}
		if input.Servings != nil {
			updates["servings"] = *input.Servings
		}
		if input.YieldAmount != nil {
			updates["yield_amount"] = *input.YieldAmount
		}
		if input.YieldUnit != nil {
			updates["yield_unit"] = *input.YieldUnit
		}
		if input.WasteBufferPercent != nil {
			updates["waste_buffer_percent"] = *input.WasteBufferPercent
		}
		if input.TargetCostPercent != nil {
			updates["target_cost_percent"] = *input.TargetCostPercent
		}
		if input.SellingPrice != nil {
			updates["selling_price"] = *input.SellingPrice
		}
		if input.Currency != nil {
			updates["currency"] = *input.Currency
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(recipe).Updates(updates).Error; err != nil {
			return err
		}
		// Reload so the recompute sees the new scalars.
		return tx.First(recipe, recipe.ID).Error
	})
}

// RestoreOptions parameterizes Restore.
type RestoreOptions struct {
	Reason string
	Author string
}

// Restore overwrites a recipe's live state from a version snapshot: scalars
// are copied back, the component list is replaced wholesale with the
// snapshot's rows (stable identifiers included), costs are recomputed at
// current ingredient prices, and the rollback is itself recorded as a new
// version. Everything happens under the recipe's lock in one transaction.
func (s *Service) Restore(ctx context.Context, target *models.RecipeVersion, opts RestoreOptions) (*CommitResult, error) {
	snapshots, err := target.Components()
	if err != nil {
		return nil, fmt.Errorf("decode snapshot of version %d: %w", target.VersionNumber, err)
	}

	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("Rolled back to version %d", target.VersionNumber)
	}
	meta := CommitMeta{Reason: reason, Author: opts.Author}

	return s.commit(ctx, target.RecipeID, meta, func(tx *gorm.DB, recipe *models.Recipe) error {
		scalars := map[string]any{
			"name":                 target.Name,
			"category":             target.Category,
			"is_base":              target.IsBase,
			"servings":             target.Servings,
			"yield_amount":         target.YieldAmount,
			"yield_unit":           target.YieldUnit,
			"waste_buffer_percent": target.WasteBufferPercent,
			"target_cost_percent":  target.TargetCostPercent,
			"selling_price":        target.SellingPrice,
			"currency":             target.Currency,
		}
		if err := tx.Model(recipe).Updates(scalars).Error; err != nil {
			return fmt.Errorf("restore scalars: %w", err)
		}

		if err := tx.Unscoped().
			Where("recipe_id = ?", recipe.ID).
			Delete(&models.RecipeComponent{}).Error; err != nil {
			return fmt.Errorf("clear live components: %w", err)
		}

		for _, snapshot := range snapshots {
			component := models.RecipeComponent{
				RecipeID:     recipe.ID,
				IngredientID: snapshot.IngredientID,
				SubRecipeID:  snapshot.SubRecipeID,
				Quantity:     snapshot.Quantity,
				Unit:         snapshot.Unit,
				Notes:        snapshot.Notes,
			}
			component.ID = snapshot.ComponentID
			if err := tx.Create(&component).Error; err != nil {
				return fmt.Errorf("reinsert component %d: %w", snapshot.ComponentID, err)
			}
		}

		return tx.First(recipe, recipe.ID).Error
	})
}

// Recompute reprices a recipe against current ingredient prices without any
// other mutation, recording the repricing as a version.
func (s *Service) Recompute(ctx context.Context, recipeID uint, meta CommitMeta) (*CommitResult, error) {
	if meta.Reason == "" {
		meta.Reason = "Costs recomputed"
	}
	return s.commit(ctx, recipeID, meta, func(*gorm.DB, *models.Recipe) error { return nil })
}

// commit is the single write path: it serializes on the recipe, applies the
// mutation, recomputes derived costs, snapshots a version, and prunes old
// versions, all in one transaction.
func (s *Service) commit(ctx context.Context, recipeID uint, meta CommitMeta, mutate func(tx *gorm.DB, recipe *models.Recipe) error) (*CommitResult, error) {
	lock := s.locks.lock(recipeID)
	defer lock.Unlock()

	var result CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipe models.Recipe
		if err := tx.First(&recipe, recipeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrRecipeNotFound, recipeID)
			}
			return err
		}

		if err := mutate(tx, &recipe); err != nil {
			return err
		}

		lineErrors, err := s.recompute(ctx, tx, &recipe)
		if err != nil {
			return err
		}

		version, err := s.versions.CreateTx(ctx, tx, recipe.ID, versioning.CreateOptions{
			Reason: meta.Reason,
			Notes:  meta.Notes,
			Author: meta.Author,
		})
		if err != nil {
			return err
		}

		if s.retention > 0 {
			if _, err := s.versions.PruneTx(ctx, tx, recipe.ID, s.retention); err != nil {
				return err
			}
		}

		recipe.CurrentVersion = version.VersionNumber
		result = CommitResult{Recipe: &recipe, Version: version, LineErrors: lineErrors}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applog.Debug(ctx, "recipe mutation committed",
		"recipeID", recipeID,
		"version", result.Version.VersionNumber,
		"reason", meta.Reason,
		"lineErrors", len(result.LineErrors),
	)
	return &result, nil
}

// recompute reprices every component, refreshes the cached line costs, and
// rewrites the recipe's derived totals. Line errors are returned, not fatal.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, recipe *models.Recipe) ([]costing.LineError, error) {
	var components []models.RecipeComponent
	if err := tx.Where("recipe_id = ?", recipe.ID).Order("id asc").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}

	prices, totals := costing.PriceComponents(
		ctx, components, recipe.WasteBufferPercent,
		ingredientSource{tx: tx}, recipeSource{tx: tx},
	)

	for i := range components {
		price, ok := prices[components[i].ID]
		if !ok {
			// Unpriceable line: zero the cache rather than keep a
			// stale figure.
			price = costing.LinePrice{}
		}
		if components[i].UnitCost == price.UnitCost && components[i].LineCost == price.LineCost {
			continue
		}
		if err := tx.Model(&components[i]).Updates(map[string]any{
			"unit_cost": price.UnitCost,
			"line_cost": price.LineCost,
		}).Error; err != nil {
			return nil, fmt.Errorf("cache line cost for component %d: %w", components[i].ID, err)
		}
	}

	recipe.TotalCost = totals.TotalCost
	recipe.ProfitMargin = costing.ProfitMargin(totals.TotalCost, recipe.SellingPrice)
	if err := tx.Model(recipe).Updates(map[string]any{
		"total_cost":    recipe.TotalCost,
		"profit_margin": recipe.ProfitMargin,
	}).Error; err != nil {
		return nil, fmt.Errorf("persist derived totals: %w", err)
	}

	return totals.Errors, nil
}

// validateSubRecipeReference enforces the nesting rule (only base recipes
// nest) and walks the component graph to reject cycles before they exist.
func (s *Service) validateSubRecipeReference(ctx context.Context, tx *gorm.DB, parent *models.Recipe, subRecipeID uint) error {
	if subRecipeID == parent.ID {
		return fmt.Errorf("%w: recipe %d cannot contain itself", ErrCyclicSubRecipe, parent.ID)
	}

	var sub models.Recipe
	if err := tx.First(&sub, subRecipeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: sub-recipe %d does not exist", ErrInvalidComponent, subRecipeID)
		}
		return err
	}
	if !sub.IsBase {
		return fmt.Errorf("%w: recipe %d (%s) is not a base recipe", ErrNotBaseRecipe, sub.ID, sub.Name)
	}

	reachable, err := s.reaches(ctx, tx, subRecipeID, parent.ID, map[uint]bool{})
	if err != nil {
		return err
	}
	if reachable {
		return fmt.Errorf("%w: recipe %d is reachable from recipe %d", ErrCyclicSubRecipe, parent.ID, subRecipeID)
	}
	return nil
}

// reaches reports whether target is reachable from start by following
// sub-recipe references depth-first.
func (s *Service) reaches(ctx context.Context, tx *gorm.DB, start, target uint, visited map[uint]bool) (bool, error) {
	if start == target {
		return true, nil
	}
	if visited[start] {
		return false, nil
	}
	visited[start] = true

	var children []uint
	err := tx.WithContext(ctx).
		Model(&models.RecipeComponent{}).
		Where("recipe_id = ? AND sub_recipe_id IS NOT NULL", start).
		Pluck("sub_recipe_id", &children).Error
	if err != nil {
		return false, err
	}

	for _, child := range children {
		found, err := s.reaches(ctx, tx, child, target, visited)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func validateRecipeInput(input RecipeInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSettings)
	}
	if input.WasteBufferPercent < 0 {
		return fmt.Errorf("%w: waste buffer must not be negative", ErrInvalidSettings)
	}
	if input.TargetCostPercent <= 0 {
		return fmt.Errorf("%w: target cost percent must be positive", ErrInvalidSettings)
	}
	if input.YieldUnit != "" {
		if _, known := units.Normalize(input.YieldUnit); !known {
			return fmt.Errorf("%w: unknown yield unit %q", ErrInvalidSettings, input.YieldUnit)
		}
	}
	return nil
}

func validateComponentInput(input ComponentInput) error {
	hasIngredient := input.IngredientID != nil && *input.IngredientID != 0
	hasSubRecipe := input.SubRecipeID != nil && *input.SubRecipeID != 0

	if hasIngredient && hasSubRecipe {
		return fmt.Errorf("%w: only one of ingredient or sub-recipe may be set", ErrInvalidComponent)
	}
	if !hasIngredient && !hasSubRecipe {
		return fmt.Errorf("%w: either ingredient or sub-recipe must be set", ErrInvalidComponent)
	}
	if input.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidComponent)
	}
	if _, known := units.Normalize(input.Unit); !known {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidComponent, input.Unit)
	}
	return nil
}

func validateSettingsInput(input SettingsInput) error {
	if input.Name != nil && *input.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidSettings)
	}
	if input.Servings != nil && *input.Servings <= 0 {
		return fmt.Errorf("%w: servings must be positive", ErrInvalidSettings)
	}
	if input.WasteBufferPercent != nil && *input.WasteBufferPercent < 0 {
		return fmt.Errorf("%w: waste buffer must not be negative", ErrInvalidSettings)
	}
	if input.TargetCostPercent != nil && *input.TargetCostPercent <= 0 {
		return fmt.Errorf("%w: target cost percent must be positive", ErrInvalidSettings)
	}
	if input.YieldAmount != nil && *input.YieldAmount <= 0 {
		return fmt.Errorf("%w: yield amount must be positive", ErrInvalidSettings)
	}
	if input.YieldUnit != nil && *input.YieldUnit != "" {
		if _, known := units.Normalize(*input.YieldUnit); !known {
			return fmt.Errorf("%w: unknown yield unit %q", ErrInvalidSettings, *input.YieldUnit)
		}
	}
	return nil
}
