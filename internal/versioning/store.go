// Package versioning maintains the append-only version ledger for recipes.
// Every committed recipe mutation lands here as an immutable snapshot row;
// exactly one row per recipe carries the current marker, and the recipe's own
// CurrentVersion field is refreshed inside the same transaction so the two
// can never drift.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mise/models"
)

var (
	// ErrVersionNotFound is returned when the requested version does not
	// exist for the recipe.
	ErrVersionNotFound = errors.New("versioning: version not found")
	// ErrVersionConflict signals that two writers raced on the same
	// recipe and computed the same next version number. The per-recipe
	// serialization in the recipe service prevents this; seeing it means
	// a caller bypassed that path and should retry.
	ErrVersionConflict = errors.New("versioning: concurrent version conflict")
)

// Store reads and writes RecipeVersion rows.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateOptions carries the audit metadata for a new version.
type CreateOptions struct {
	Reason string
	Notes  string
	Author string
}

// Create snapshots the recipe's current state as the next version. The read
// of the highest existing number, the demotion of the previous current row,
// the insert, and the refresh of the recipe's CurrentVersion pointer all
// happen in one transaction.
func (s *Store) Create(ctx context.Context, recipeID uint, opts CreateOptions) (*models.RecipeVersion, error) {
	var created *models.RecipeVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.CreateTx(ctx, tx, recipeID, opts)
		if err != nil {
			return err
		}
		created = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTx is Create running inside a caller-owned transaction, for mutation
// paths that must commit the recipe change and its snapshot atomically.
func (s *Store) CreateTx(ctx context.Context, tx *gorm.DB, recipeID uint, opts CreateOptions) (*models.RecipeVersion, error) {
	var recipe models.Recipe
	if err := tx.WithContext(ctx).First(&recipe, recipeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: recipe %d", ErrVersionNotFound, recipeID)
		}
		return nil, fmt.Errorf("load recipe %d: %w", recipeID, err)
	}

	var components []models.RecipeComponent
	if err := tx.WithContext(ctx).
		Where("recipe_id = ?", recipeID).
		Order("id asc").
		Find(&components).Error; err != nil {
		return nil, fmt.Errorf("load components for recipe %d: %w", recipeID, err)
	}

	var highest int
	row := tx.WithContext(ctx).
		Model(&models.RecipeVersion{}).
		Where("recipe_id = ?", recipeID).
		Select("COALESCE(MAX(version_number), 0)").
		Row()
	if err := row.Scan(&highest); err != nil {
		return nil, fmt.Errorf("read highest version for recipe %d: %w", recipeID, err)
	}

	version := models.RecipeVersion{
		RecipeID:           recipeID,
		VersionNumber:      highest + 1,
		Name:               recipe.Name,
		Category:           recipe.Category,
		IsBase:             recipe.IsBase,
		Servings:           recipe.Servings,
		YieldAmount:        recipe.YieldAmount,
		YieldUnit:          recipe.YieldUnit,
		WasteBufferPercent: recipe.WasteBufferPercent,
		TargetCostPercent:  recipe.TargetCostPercent,
		SellingPrice:       recipe.SellingPrice,
		Currency:           recipe.Currency,
		TotalCost:          recipe.TotalCost,
		ProfitMargin:       recipe.ProfitMargin,
		ChangeReason:       opts.Reason,
		ChangeNotes:        opts.Notes,
		CreatedBy:          opts.Author,
		IsCurrent:          true,
	}
	if err := version.SnapshotComponents(components); err != nil {
		return nil, fmt.Errorf("snapshot components for recipe %d: %w", recipeID, err)
	}

	if err := tx.WithContext(ctx).
		Model(&models.RecipeVersion{}).
		Where("recipe_id = ? AND is_current = ?", recipeID, true).
		Update("is_current", false).Error; err != nil {
		return nil, fmt.Errorf("demote current version for recipe %d: %w", recipeID, err)
	}

	if err := tx.WithContext(ctx).Create(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: recipe %d version %d", ErrVersionConflict, recipeID, version.VersionNumber)
		}
		return nil, fmt.Errorf("insert version %d for recipe %d: %w", version.VersionNumber, recipeID, err)
	}

	if err := tx.WithContext(ctx).
		Model(&models.Recipe{}).
		Where("id = ?", recipeID).
		Update("current_version", version.VersionNumber).Error; err != nil {
		return nil, fmt.Errorf("refresh current version pointer for recipe %d: %w", recipeID, err)
	}

	return &version, nil
}

// Get fetches one version by recipe and number.
func (s *Store) Get(ctx context.Context, recipeID uint, versionNumber int) (*models.RecipeVersion, error) {
	var version models.RecipeVersion
	err := s.db.WithContext(ctx).
		Where("recipe_id = ? AND version_number = ?", recipeID, versionNumber).
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: recipe %d version %d", ErrVersionNotFound, recipeID, versionNumber)
		}
		return nil, err
	}
	return &version, nil
}

// List returns all versions for a recipe, newest first.
func (s *Store) List(ctx context.Context, recipeID uint) ([]models.RecipeVersion, error) {
	var versions []models.RecipeVersion
	err := s.db.WithContext(ctx).
		Where("recipe_id = ?", recipeID).
		Order("version_number desc").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Current returns the version carrying the current marker.
func (s *Store) Current(ctx context.Context, recipeID uint) (*models.RecipeVersion, error) {
	var version models.RecipeVersion
	err := s.db.WithContext(ctx).
		Where("recipe_id = ? AND is_current = ?", recipeID, true).
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: recipe %d has no current version", ErrVersionNotFound, recipeID)
		}
		return nil, err
	}
	return &version, nil
}

// LatestBefore returns the most recent version created at or before the
// cutoff, or ErrVersionNotFound when the recipe has none that old.
func (s *Store) LatestBefore(ctx context.Context, recipeID uint, cutoff time.Time) (*models.RecipeVersion, error) {
	var version models.RecipeVersion
	err := s.db.WithContext(ctx).
		Where("recipe_id = ? AND created_at <= ?", recipeID, cutoff).
		Order("version_number desc").
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: recipe %d has no version at or before %s", ErrVersionNotFound, recipeID, cutoff.Format(time.RFC3339))
		}
		return nil, err
	}
	return &version, nil
}

// Prune deletes the oldest non-current versions beyond keep and reports how
// many rows went. Surviving rows keep their version numbers; the current
// version is never touched regardless of age.
func (s *Store) Prune(ctx context.Context, recipeID uint, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("versioning: keep must not be negative, got %d", keep)
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.PruneTx(ctx, tx, recipeID, keep)
		if err != nil {
			return err
		}
		deleted = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// PruneTx is Prune inside a caller-owned transaction.
func (s *Store) PruneTx(ctx context.Context, tx *gorm.DB, recipeID uint, keep int) (int64, error) {
	var versions []models.RecipeVersion
	if err := tx.WithContext(ctx).
		Select("id", "version_number", "is_current").
		Where("recipe_id = ?", recipeID).
		Order("version_number desc").
		Find(&versions).Error; err != nil {
		return 0, fmt.Errorf("list versions for pruning recipe %d: %w", recipeID, err)
	}

	if len(versions) <= keep {
		return 0, nil
	}

	var doomed []uint
	for _, version := range versions[keep:] {
		if version.IsCurrent {
			continue
		}
		doomed = append(doomed, version.ID)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	result := tx.WithContext(ctx).Unscoped().Delete(&models.RecipeVersion{}, doomed)
	if result.Error != nil {
		return 0, fmt.Errorf("delete pruned versions for recipe %d: %w", recipeID, result.Error)
	}
	return result.RowsAffected, nil
}
