package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/smartcity/roadwork/internal/service"
	"github.com/smartcity/roadwork/internal/settings"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, manager *service.CacheManager, settingsStore *settings.Store) {
	handler := NewHandler(manager, settingsStore)

	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		// Sources
		api.Get("/sources", handler.ListSources)
		api.Get("/sources/:source", handler.GetSource)
		api.Get("/sources/:source/history", handler.GetHistory)
		api.Post("/sources/:source/reload", handler.ReloadSource)

		// Roadworks
		api.Get("/roadworks", handler.ListActiveRoadworks)
		api.Get("/sources/:source/roadworks", handler.ListRoadworks)
		api.Put("/sources/:source/roadworks/:id/status", handler.UpdateStatus)
		api.Get("/sources/:source/roadworks/:id/editor", handler.EditorLink)

		// Settings
		api.Get("/settings", handler.GetSettings)
		api.Put("/settings", handler.UpdateSettings)
	}
}
