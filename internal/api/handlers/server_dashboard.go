package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCommissionStats handles GET /dashboard/commission-stats. Agents receive
// 200 with the limited view rather than an error.
func (s *Server) GetCommissionStats(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	view, err := s.commission.Stats(c.Request.Context(), sess)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}
