// Package rollback restores recipes to prior versions. A single rollback is
// one atomic restore-and-reversion on the recipe service; the bulk variant is
// a sequence of independent per-recipe rollbacks where one failure never
// stops the rest but is always reported back.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	applog "mise/internal/log"
	"mise/internal/recipes"
	"mise/internal/versioning"
	"mise/models"
)

// ErrBulkInProgress rejects a second bulk rollback while one is running.
var ErrBulkInProgress = errors.New("rollback: bulk rollback already in progress")

// Orchestrator drives single and bulk rollbacks.
type Orchestrator struct {
	recipes  *recipes.Service
	versions *versioning.Store
	bulkBusy atomic.Bool
}

func NewOrchestrator(recipeService *recipes.Service, versionStore *versioning.Store) *Orchestrator {
	return &Orchestrator{recipes: recipeService, versions: versionStore}
}

// ToVersion restores the recipe's live state to the named version and records
// the rollback as a new forward version. Costs are recomputed at current
// ingredient prices; snapshots are not price-frozen.
func (o *Orchestrator) ToVersion(ctx context.Context, recipeID uint, versionNumber int, reason, author string) (*recipes.CommitResult, error) {
	target, err := o.versions.Get(ctx, recipeID, versionNumber)
	if err != nil {
		return nil, err
	}

	result, err := o.recipes.Restore(ctx, target, recipes.RestoreOptions{Reason: reason, Author: author})
	if err != nil {
		return nil, fmt.Errorf("restore recipe %d to version %d: %w", recipeID, versionNumber, err)
	}

	applog.Info(ctx, "recipe rolled back",
		"recipeID", recipeID,
		"targetVersion", versionNumber,
		"newVersion", result.Version.VersionNumber,
	)
	return result, nil
}

// Failure records one recipe that could not be rolled back during a bulk run.
type Failure struct {
	RecipeID uint
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("recipe %d: %v", f.RecipeID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// BulkResult summarizes a bulk rollback run.
type BulkResult struct {
	Affected int
	Skipped  int
	Failures []Failure
}

// BulkToDate rolls every recipe back to its most recent version created at
// or before the cutoff. Recipes with no qualifying version are skipped.
// Each rollback is independently atomic; failures are collected and returned
// alongside the count of recipes that did roll back.
func (o *Orchestrator) BulkToDate(ctx context.Context, cutoff time.Time, reason, author string) (BulkResult, error) {
	if !o.bulkBusy.CompareAndSwap(false, true) {
		return BulkResult{}, ErrBulkInProgress
	}
	defer o.bulkBusy.Store(false)

	if reason == "" {
		reason = fmt.Sprintf("Rolled back to state at %s", cutoff.UTC().Format(time.RFC3339))
	}

	all, err := o.recipes.List(ctx)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list recipes for bulk rollback: %w", err)
	}

	var result BulkResult
	for _, recipe := range all {
		if err := o.rollbackOneToDate(ctx, recipe, cutoff, reason, author); err != nil {
			if errors.Is(err, versioning.ErrVersionNotFound) {
				result.Skipped++
				continue
			}
			applog.Error(ctx, "bulk rollback failed for recipe", "recipeID", recipe.ID, "error", err)
			result.Failures = append(result.Failures, Failure{RecipeID: recipe.ID, Err: err})
			continue
		}
		result.Affected++
	}

	applog.Info(ctx, "bulk rollback finished",
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"affected", result.Affected,
		"skipped", result.Skipped,
		"failed", len(result.Failures),
	)
	return result, nil
}

func (o *Orchestrator) rollbackOneToDate(ctx context.Context, recipe models.Recipe, cutoff time.Time, reason, author string) error {
	target, err := o.versions.LatestBefore(ctx, recipe.ID, cutoff)
	if err != nil {
		return err
	}

	rollbackReason := fmt.Sprintf("%s (version %d)", reason, target.VersionNumber)
	if _, err := o.recipes.Restore(ctx, target, recipes.RestoreOptions{Reason: rollbackReason, Author: author}); err != nil {
		return err
	}
	return nil
}
