package mock

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	applog "mise/internal/log"
	"mise/internal/recipes"
	"mise/internal/versioning"
	"mise/models"
)

// New returns an in-memory sqlite database seeded with representative kitchen
// data. Seeding goes through the recipe service so every seeded recipe carries
// a proper version history and fresh derived totals.
func New(ctx context.Context) (*gorm.DB, error) {
	applog.Debug(ctx, "initialising mock database")

	db, err := gorm.Open(sqlite.Open("file:mise-mock?mode=memory&cache=shared"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		PrepareStmt:                              true,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Ingredient{},
		&models.Recipe{},
		&models.RecipeComponent{},
		&models.RecipeVersion{},
		&models.User{},
	); err != nil {
		return nil, err
	}

	if err := seed(ctx, db); err != nil {
		return nil, err
	}

	applog.Debug(ctx, "mock database ready")
	return db, nil
}

func seed(ctx context.Context, db *gorm.DB) error {
	applog.Debug(ctx, "seeding mock database")

	password, err := bcrypt.GenerateFromPassword([]byte("brigade"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &models.User{
		Name:         "Jordan Reyes",
		Email:        "jordan@mise.app",
		PasswordHash: string(password),
	}
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		return err
	}

	bun := models.Ingredient{
		Name:             "Brioche Bun",
		Category:         "Bakery",
		Supplier:         "Hearth & Crumb",
		BaseUnit:         "piece",
		PricePerBaseUnit: 0.50,
		Currency:         "USD",
	}
	beef := models.Ingredient{
		Name:             "Ground Beef 80/20",
		Category:         "Meat",
		Supplier:         "Blue Ridge Provisions",
		BaseUnit:         "kg",
		PricePerBaseUnit: 10.00,
		Currency:         "USD",
	}
	tomatoes := models.Ingredient{
		Name:             "Canned Tomatoes",
		Category:         "Pantry",
		Supplier:         "Mercato Imports",
		BaseUnit:         "kg",
		PricePerBaseUnit: 2.40,
		Currency:         "USD",
	}
	oliveOil := models.Ingredient{
		Name:             "Olive Oil",
		Category:         "Pantry",
		Supplier:         "Mercato Imports",
		BaseUnit:         "l",
		PricePerBaseUnit: 9.00,
		Currency:         "USD",
	}
	basil := models.Ingredient{
		Name:             "Fresh Basil",
		Category:         "Produce",
		Supplier:         "Four Seasons Farm",
		BaseUnit:         "g",
		PricePerBaseUnit: 0.04,
		Currency:         "USD",
	}

	ingredients := []*models.Ingredient{&bun, &beef, &tomatoes, &oliveOil, &basil}
	for _, ingredient := range ingredients {
		if err := db.WithContext(ctx).Create(ingredient).Error; err != nil {
			return err
		}
	}

	store := versioning.NewStore(db)
	service := recipes.NewService(db, store, 0)
	meta := recipes.CommitMeta{Author: user.Email}

	yield := 2.0
	sauce, err := service.Create(ctx, recipes.RecipeInput{
		Name:              "Tomato Sauce",
		Category:          "Base",
		IsBase:            true,
		YieldAmount:       &yield,
		YieldUnit:         "l",
		TargetCostPercent: 30,
		Currency:          "USD",
	}, meta)
	if err != nil {
		return err
	}

	sauceComponents := []recipes.ComponentInput{
		{IngredientID: &tomatoes.ID, Quantity: 2, Unit: "kg"},
		{IngredientID: &oliveOil.ID, Quantity: 100, Unit: "ml"},
		{IngredientID: &basil.ID, Quantity: 20, Unit: "g"},
	}
	for _, component := range sauceComponents {
		if _, err := service.AddComponent(ctx, sauce.Recipe.ID, component, meta); err != nil {
			return err
		}
	}

	burger, err := service.Create(ctx, recipes.RecipeInput{
		Name:               "Classic Burger",
		Category:           "Mains",
		Servings:           1,
		WasteBufferPercent: 5,
		TargetCostPercent:  25,
		SellingPrice:       14.00,
		Currency:           "USD",
	}, meta)
	if err != nil {
		return err
	}

	burgerComponents := []recipes.ComponentInput{
		{IngredientID: &beef.ID, Quantity: 0.18, Unit: "kg"},
		{IngredientID: &bun.ID, Quantity: 1, Unit: "piece"},
		{SubRecipeID: &sauce.Recipe.ID, Quantity: 50, Unit: "ml", Notes: "house sauce"},
	}
	for _, component := range burgerComponents {
		if _, err := service.AddComponent(ctx, burger.Recipe.ID, component, meta); err != nil {
			return err
		}
	}

	applog.Debug(ctx, "mock database seeded")
	return nil
}
