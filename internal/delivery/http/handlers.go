package http

import (
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
	"github.com/smartcity/roadwork/internal/service"
	"github.com/smartcity/roadwork/internal/settings"
	"github.com/smartcity/roadwork/pkg/utils"
)

const passwordMask = "********"

// Handler contains all HTTP handlers
type Handler struct {
	manager  *service.CacheManager
	settings *settings.Store
	now      func() time.Time
}

// NewHandler creates a new handler
func NewHandler(manager *service.CacheManager, settingsStore *settings.Store) *Handler {
	return &Handler{
		manager:  manager,
		settings: settingsStore,
		now:      time.Now,
	}
}

// SourceInfo describes one available source
type SourceInfo struct {
	Name     string          `json:"name"`
	Center   domain.LatLng   `json:"center"`
	Metadata domain.Metadata `json:"metadata"`
}

// RoadworkView is a roadwork as listed, with its distance when a reference
// point was given
type RoadworkView struct {
	*domain.Roadwork
	Expired    bool     `json:"expired"`
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// StatusRequest is the body of a status update
type StatusRequest struct {
	Status string `json:"status"`
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	database := "ok"
	if err := h.manager.HistoryHealth(c.Context()); err != nil {
		logger.Log.WithError(err).Warn("history database unhealthy")
		database = "unavailable"
	}

	return c.JSON(fiber.Map{
		"status":   "ok",
		"service":  "roadwork-backend",
		"version":  "1.0.0",
		"sources":  len(h.manager.Catalog().Names()),
		"database": database,
	})
}

// ListSources returns every loaded descriptor
func (h *Handler) ListSources(c *fiber.Ctx) error {
	catalog := h.manager.Catalog()
	names := catalog.Names()
	sources := make([]SourceInfo, 0, len(names))
	for _, name := range names {
		d, _ := catalog.Get(name)
		sources = append(sources, SourceInfo{Name: name, Center: catalog.Center(name), Metadata: d.Metadata})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sources,
		"count":   len(sources),
	})
}

// GetSource returns the metadata of one source
func (h *Handler) GetSource(c *fiber.Ctx) error {
	name := param(c, "source")
	catalog := h.manager.Catalog()
	d, ok := catalog.Get(name)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Unknown source "+name)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    SourceInfo{Name: name, Center: catalog.Center(name), Metadata: d.Metadata},
	})
}

// ListRoadworks returns the roadworks of a source
func (h *Handler) ListRoadworks(c *fiber.Ctx) error {
	return h.listRoadworks(c, param(c, "source"))
}

// ListActiveRoadworks returns the roadworks of the source selected in the settings
func (h *Handler) ListActiveRoadworks(c *fiber.Ctx) error {
	return h.listRoadworks(c, h.settings.Snapshot().OpendataService)
}

func (h *Handler) listRoadworks(c *fiber.Ctx, source string) error {
	hideExpired := c.QueryBool("hideExpired", h.settings.Snapshot().HideExpired)

	var (
		near             bool
		nearLat, nearLon float64
	)
	if raw := c.Query("near"); raw != "" {
		lat, lon, err := utils.ParseLatLon(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid near parameter: "+err.Error())
		}
		near, nearLat, nearLon = true, lat, lon
	}

	ds, err := h.manager.Load(c.Context(), source)
	if err != nil {
		return toFiberError(err)
	}

	now := h.now()
	visible := ds.Visible(hideExpired, now)
	views := make([]RoadworkView, 0, len(visible))
	for _, r := range visible {
		view := RoadworkView{Roadwork: r, Expired: r.IsExpired(now)}
		if near {
			d := utils.RoundTo(utils.Haversine(nearLat, nearLon, r.Latitude, r.Longitude), 3)
			view.DistanceKm = &d
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool {
		if near && *views[i].DistanceKm != *views[j].DistanceKm {
			return *views[i].DistanceKm < *views[j].DistanceKm
		}
		return views[i].ID < views[j].ID
	})

	return c.JSON(fiber.Map{
		"success": true,
		"source":  ds.Source,
		"created": ds.Created.Time(),
		"data":    views,
		"count":   len(views),
	})
}

// ReloadSource drops the cache of a source and fetches it again
func (h *Handler) ReloadSource(c *fiber.Ctx) error {
	ds, err := h.manager.Reload(c.Context(), param(c, "source"))
	if err != nil {
		return toFiberError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"source":  ds.Source,
		"count":   ds.Len(),
	})
}

// UpdateStatus sets the status of one roadwork
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	r, err := h.manager.UpdateStatus(c.Context(), param(c, "source"), param(c, "id"), status)
	if err != nil {
		return toFiberError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    r,
	})
}

// EditorLink returns the external editor URL centered on a roadwork
func (h *Handler) EditorLink(c *fiber.Ctx) error {
	source := param(c, "source")
	d, ok := h.manager.Catalog().Get(source)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Unknown source "+source)
	}
	ds, err := h.manager.Load(c.Context(), source)
	if err != nil {
		return toFiberError(err)
	}
	id := param(c, "id")
	r, ok := ds.Get(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Unknown roadwork "+id)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"url":     d.Metadata.EditorURL(r.Latitude, r.Longitude),
	})
}

// GetHistory returns the latest refreshes of a source
func (h *Handler) GetHistory(c *fiber.Ctx) error {
	source := param(c, "source")
	if _, ok := h.manager.Catalog().Get(source); !ok {
		return fiber.NewError(fiber.StatusNotFound, "Unknown source "+source)
	}
	limit := utils.Clamp(c.QueryInt("limit", 20), 1, 100)

	data, err := h.manager.RefreshHistory(c.Context(), source, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to read refresh history")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch refresh history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// GetSettings returns the current settings, password masked
func (h *Handler) GetSettings(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    masked(h.settings.Snapshot()),
	})
}

// UpdateSettings replaces the settings. A masked password keeps the stored one.
func (h *Handler) UpdateSettings(c *fiber.Ctx) error {
	var req settings.Settings
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.OpendataService != "" {
		if _, ok := h.manager.Catalog().Get(req.OpendataService); !ok {
			return fiber.NewError(fiber.StatusBadRequest, "Unknown source "+req.OpendataService)
		}
	}

	updated, err := h.settings.Update(func(s *settings.Settings) {
		password := s.SynchronizationPassword
		*s = req
		if req.SynchronizationPassword == passwordMask {
			s.SynchronizationPassword = password
		}
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to save settings")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to save settings")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    masked(updated),
	})
}

// param copies a route parameter out of the request buffer, which fasthttp
// reuses once the handler returns.
func param(c *fiber.Ctx, key string) string {
	return fiberutils.CopyString(c.Params(key))
}

func masked(s settings.Settings) settings.Settings {
	if s.SynchronizationPassword != "" {
		s.SynchronizationPassword = passwordMask
	}
	return s
}

// toFiberError maps core errors to HTTP statuses
func toFiberError(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownSource):
		return fiber.NewError(fiber.StatusNotFound, "Unknown source")
	case errors.Is(err, domain.ErrRecordNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Unknown roadwork")
	case errors.Is(err, domain.ErrFetch):
		return fiber.NewError(fiber.StatusServiceUnavailable, "No data available for this source")
	default:
		logger.Log.WithError(err).Error("request failed")
		return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
	}
}
