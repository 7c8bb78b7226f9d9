package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/domain"
)

// UserList is the body of GET /users.
type UserList struct {
	Items []domain.User `json:"items"`
}

// ListUsers handles GET /users.
func (s *Server) ListUsers(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	users, err := s.users.List(c.Request.Context(), sess)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, UserList{Items: users})
}

// CreateUser handles POST /users.
func (s *Server) CreateUser(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	var req domain.NewUser
	if !bindJSON(c, &req) {
		return
	}
	user, err := s.users.Create(c.Request.Context(), sess, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// UpdateUser handles PUT /users/{user_id}.
func (s *Server) UpdateUser(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req domain.UserUpdate
	if !bindJSON(c, &req) {
		return
	}
	user, err := s.users.Update(c.Request.Context(), sess, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{user_id}.
func (s *Server) DeleteUser(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if err := s.users.Delete(c.Request.Context(), sess, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
