package ads

import (
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/middleware"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/clock"
	"github.com/itranswarp/backend/pkg/request"
	"github.com/itranswarp/backend/pkg/response"
)

// maxImageBase64 bounds the encoded image accepted in a request body.
const maxImageBase64 = 1400000

// CreateSlotRequest is the body for POST /api/adslots.
type CreateSlotRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Alias       string `json:"alias" binding:"omitempty,max=100"`
	Description string `json:"description" binding:"required,max=1000"`
	Price       int64  `json:"price" binding:"required"`
	Width       int    `json:"width" binding:"required"`
	Height      int    `json:"height" binding:"required"`
	NumSlots    int    `json:"num_slots" binding:"required"`
	NumAutoFill int    `json:"num_auto_fill" binding:"required"`
	AutoFill    string `json:"auto_fill" binding:"required"`
}

// UpdateSlotRequest is the body for POST /api/adslots/:id. Width and height are ignored.
type UpdateSlotRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=100"`
	Alias       *string `json:"alias" binding:"omitempty,max=100"`
	Description *string `json:"description" binding:"omitempty,max=1000"`
	Price       *int64  `json:"price"`
	NumSlots    *int    `json:"num_slots"`
	NumAutoFill *int    `json:"num_auto_fill"`
	AutoFill    *string `json:"auto_fill"`
}

// CreatePeriodRequest is the body for POST /api/adperiods.
type CreatePeriodRequest struct {
	SlotID  uuid.UUID `json:"adslot_id" binding:"required"`
	UserID  uuid.UUID `json:"user_id" binding:"required"`
	StartAt string    `json:"start_at" binding:"required"`
	Months  int       `json:"months" binding:"required"`
}

// ExtendPeriodRequest is the body for POST /api/adperiods/:id/extend.
type ExtendPeriodRequest struct {
	Months int `json:"months" binding:"required"`
}

// CreateMaterialRequest is the body for POST /api/adperiods/:id/admaterials. Image is base64.
type CreateMaterialRequest struct {
	URL      string `json:"url" binding:"required,max=1000"`
	Weight   *int   `json:"weight"`
	StartAt  string `json:"start_at"`
	EndAt    string `json:"end_at"`
	Geo      string `json:"geo" binding:"max=100"`
	Keywords string `json:"keywords" binding:"max=100"`
	Image    string `json:"image" binding:"required,max=1400000"`
}

// Handler handles ad inventory HTTP endpoints.
type Handler struct {
	inv    *Inventory
	cache  *ServingCache
	clock  clock.Clock
	logger *zap.Logger
}

// NewHandler creates an ads handler.
func NewHandler(inv *Inventory, cache *ServingCache, clk clock.Clock, logger *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Handler{inv: inv, cache: cache, clock: clk, logger: logger}
}

// RegisterRoutes mounts the ad endpoints. api must authenticate the caller first.
func (h *Handler) RegisterRoutes(public, api gin.IRoutes) {
	admin := middleware.RequireRole(models.RoleAdmin)
	owner := middleware.RequireRole(models.RoleAdmin, models.RoleSponsor)

	public.GET("/api/ads", h.Serving)

	api.GET("/api/adslots", admin, h.ListSlots)
	api.GET("/api/adslots/:id", admin, h.GetSlot)
	api.POST("/api/adslots", admin, h.CreateSlot)
	api.POST("/api/adslots/:id", admin, h.UpdateSlot)
	api.POST("/api/adslots/:id/delete", admin, h.DeleteSlot)

	api.GET("/api/adperiods", owner, h.ListPeriods)
	api.POST("/api/adperiods", admin, h.CreatePeriod)
	api.POST("/api/adperiods/:id/extend", admin, h.ExtendPeriod)
	api.POST("/api/adperiods/:id/delete", admin, h.DeletePeriod)

	api.GET("/api/admaterials", owner, h.ListMaterials)
	api.POST("/api/adperiods/:id/admaterials", owner, h.CreateMaterial)
	api.POST("/api/admaterials/:id/delete", owner, h.DeleteMaterial)
}

// Serving handles GET /api/ads (public).
func (h *Handler) Serving(c *gin.Context) {
	data, err := h.cache.SnapshotJSON(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.RawJSON(c, data)
}

// ListSlots handles GET /api/adslots (admin).
func (h *Handler) ListSlots(c *gin.Context) {
	slots, err := h.inv.Slots.ListSlots(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"adslots": nonNil(slots)})
}

// GetSlot handles GET /api/adslots/:id (admin).
func (h *Handler) GetSlot(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	s, err := h.inv.Slots.GetSlot(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// CreateSlot handles POST /api/adslots (admin).
func (h *Handler) CreateSlot(c *gin.Context) {
	var req CreateSlotRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	s, err := h.inv.Slots.CreateSlot(c.Request.Context(), SlotSpec{
		Name:        req.Name,
		Alias:       req.Alias,
		Description: req.Description,
		Price:       req.Price,
		Width:       req.Width,
		Height:      req.Height,
		NumSlots:    req.NumSlots,
		NumAutoFill: req.NumAutoFill,
		AutoFill:    req.AutoFill,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// UpdateSlot handles POST /api/adslots/:id (admin).
func (h *Handler) UpdateSlot(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req UpdateSlotRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	s, err := h.inv.Slots.UpdateSlot(c.Request.Context(), id, models.SlotPatch{
		Name:        req.Name,
		Alias:       req.Alias,
		Description: req.Description,
		Price:       req.Price,
		NumSlots:    req.NumSlots,
		NumAutoFill: req.NumAutoFill,
		AutoFill:    req.AutoFill,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// DeleteSlot handles POST /api/adslots/:id/delete (admin).
func (h *Handler) DeleteSlot(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.inv.Slots.DeleteSlot(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id})
}

// ListPeriods handles GET /api/adperiods (admin or sponsor). Sponsors see only their own.
// Without all=true only unexpired periods are returned, latest end first.
func (h *Handler) ListPeriods(c *gin.Context) {
	slotID, err := request.UUIDQuery(c, "adslot_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	f := PeriodFilter{SlotID: slotID}
	if actor := middleware.CurrentActor(c); !actor.IsAdmin() {
		f.SponsorID = &actor.ID
	}
	all := c.Query("all") == "1" || c.Query("all") == "true"
	if !all {
		f.UnexpiredOn = models.DateOf(h.clock.Now())
	}
	periods, err := h.inv.Periods.ListPeriods(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	SortByEndDesc(periods)
	response.OK(c, gin.H{"adperiods": nonNil(periods)})
}

// CreatePeriod handles POST /api/adperiods (admin).
func (h *Handler) CreatePeriod(c *gin.Context) {
	var req CreatePeriodRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	p, err := h.inv.Periods.CreatePeriod(c.Request.Context(), req.UserID, req.SlotID, req.StartAt, req.Months)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// ExtendPeriod handles POST /api/adperiods/:id/extend (admin).
func (h *Handler) ExtendPeriod(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req ExtendPeriodRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	p, err := h.inv.Periods.ExtendPeriod(c.Request.Context(), id, req.Months)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// DeletePeriod handles POST /api/adperiods/:id/delete (admin).
func (h *Handler) DeletePeriod(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.inv.Periods.DeletePeriod(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id})
}

// ListMaterials handles GET /api/admaterials (admin or sponsor). Sponsors see only their own.
func (h *Handler) ListMaterials(c *gin.Context) {
	periodID, err := request.UUIDQuery(c, "period_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	f := MaterialFilter{PeriodID: periodID}
	if actor := middleware.CurrentActor(c); !actor.IsAdmin() {
		f.SponsorID = &actor.ID
	}
	list, err := h.inv.Materials.ListMaterials(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"admaterials": nonNil(list)})
}

// CreateMaterial handles POST /api/adperiods/:id/admaterials (admin or owning sponsor).
func (h *Handler) CreateMaterial(c *gin.Context) {
	periodID, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req CreateMaterialRequest
	if err := request.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		response.Error(c, err)
		return
	}
	m, err := h.inv.Materials.AddMaterial(c.Request.Context(), middleware.CurrentActor(c), periodID, MaterialSpec{
		URL:      req.URL,
		Weight:   req.Weight,
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		Geo:      req.Geo,
		Keywords: req.Keywords,
		Image:    image,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// DeleteMaterial handles POST /api/admaterials/:id/delete (admin or owning sponsor).
func (h *Handler) DeleteMaterial(c *gin.Context) {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.inv.Materials.DeleteMaterial(c.Request.Context(), middleware.CurrentActor(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id})
}

// decodeImage accepts plain base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+len(";base64,"):]
	}
	if len(s) > maxImageBase64 {
		return nil, apperr.InvalidParam("image", "Image is too large.")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.InvalidParam("image", "Invalid base64 image.")
	}
	return data, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
