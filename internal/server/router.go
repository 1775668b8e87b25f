package server

import (
	"context"
	"net/http"

	"mise/internal/handlers"
	applog "mise/internal/log"
)

func newRouter() http.Handler {
	mux := http.NewServeMux()
	applog.Debug(context.Background(), "registering http routes")
	mux.HandleFunc("/healthz", handlers.Health)
	applog.Debug(context.Background(), "route registered", "path", "/healthz")
	mux.HandleFunc("/login", handlers.Login)
	applog.Debug(context.Background(), "route registered", "path", "/login")
	mux.HandleFunc("/signup", handlers.Signup)
	applog.Debug(context.Background(), "route registered", "path", "/signup")
	mux.HandleFunc("/logout", handlers.Logout)
	applog.Debug(context.Background(), "route registered", "path", "/logout")
	mux.Handle("/app/api/ingredients", handlers.RequireAuthentication(http.HandlerFunc(handlers.IngredientResource)))
	mux.Handle("/app/api/ingredients/", handlers.RequireAuthentication(http.HandlerFunc(handlers.IngredientResource)))
	applog.Debug(context.Background(), "route registered", "path", "/app/api/ingredients", "protected", true)
	mux.Handle("/app/api/recipes", handlers.RequireAuthentication(http.HandlerFunc(handlers.RecipeResource)))
	mux.Handle("/app/api/recipes/", handlers.RequireAuthentication(http.HandlerFunc(handlers.RecipeResource)))
	applog.Debug(context.Background(), "route registered", "path", "/app/api/recipes", "protected", true)
	mux.Handle("/app/api/rollback", handlers.RequireAuthentication(http.HandlerFunc(handlers.BulkRollback)))
	applog.Debug(context.Background(), "route registered", "path", "/app/api/rollback", "protected", true)
	return mux
}
