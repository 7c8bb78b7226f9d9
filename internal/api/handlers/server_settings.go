package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/domain"
)

// ParishList is the body of GET /settings/parishes.
type ParishList struct {
	Items []domain.Parish `json:"items"`
}

// BudgetTierList is the body of GET /settings/budget-tiers.
type BudgetTierList struct {
	Items []domain.BudgetTier `json:"items"`
}

// GetSystemSettings handles GET /settings/system.
func (s *Server) GetSystemSettings(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	out, err := s.settings.SystemSettings(c.Request.Context(), sess)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SaveSystemSettings handles PUT /settings/system.
func (s *Server) SaveSystemSettings(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	var req domain.SystemSettings
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.settings.SaveSystemSettings(c.Request.Context(), sess, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListParishes handles GET /settings/parishes.
func (s *Server) ListParishes(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	items, err := s.settings.Parishes(c.Request.Context(), sess)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ParishList{Items: items})
}

// CreateParish handles POST /settings/parishes.
func (s *Server) CreateParish(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	var req domain.Parish
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.settings.CreateParish(c.Request.Context(), sess, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// UpdateParish handles PUT /settings/parishes/{parish_id}.
func (s *Server) UpdateParish(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "parish_id")
	if !ok {
		return
	}
	var req domain.Parish
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.settings.UpdateParish(c.Request.Context(), sess, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteParish handles DELETE /settings/parishes/{parish_id}.
func (s *Server) DeleteParish(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "parish_id")
	if !ok {
		return
	}
	if err := s.settings.DeleteParish(c.Request.Context(), sess, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBudgetTiers handles GET /settings/budget-tiers.
func (s *Server) ListBudgetTiers(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	items, err := s.settings.BudgetTiers(c.Request.Context(), sess)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, BudgetTierList{Items: items})
}

// CreateBudgetTier handles POST /settings/budget-tiers.
func (s *Server) CreateBudgetTier(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	var req domain.BudgetTier
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.settings.CreateBudgetTier(c.Request.Context(), sess, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// UpdateBudgetTier handles PUT /settings/budget-tiers/{tier_id}.
func (s *Server) UpdateBudgetTier(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "tier_id")
	if !ok {
		return
	}
	var req domain.BudgetTier
	if !bindJSON(c, &req) {
		return
	}
	out, err := s.settings.UpdateBudgetTier(c.Request.Context(), sess, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteBudgetTier handles DELETE /settings/budget-tiers/{tier_id}.
func (s *Server) DeleteBudgetTier(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "tier_id")
	if !ok {
		return
	}
	if err := s.settings.DeleteBudgetTier(c.Request.Context(), sess, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
