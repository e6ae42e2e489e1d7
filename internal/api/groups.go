package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade-core/internal/authz"
	"papertrade-core/pkg/db"
)

type groupNameRequest struct {
	Name string `json:"name" binding:"required,min=1"`
}

type groupRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=owner manager member"`
}

// respondGroupError maps group service errors onto HTTP statuses.
func respondGroupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authz.ErrNameTaken):
		respondError(c, http.StatusConflict, "NAME_TAKEN", err.Error())
	case errors.Is(err, authz.ErrInvalidName), errors.Is(err, authz.ErrInvalidRole):
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, authz.ErrForbidden):
		respondError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, authz.ErrNotMember):
		respondError(c, http.StatusForbidden, "NOT_MEMBER", err.Error())
	case errors.Is(err, authz.ErrOwnerCannotLeave), errors.Is(err, authz.ErrLastOwner):
		respondError(c, http.StatusConflict, "OWNER_CONSTRAINT", err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "group not found")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// createGroup provisions a group with a shared account owned by the caller.
func (s *Server) createGroup(c *gin.Context) {
	var req groupNameRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	group, err := s.Groups.Create(c.Request.Context(), CurrentUserID(c), req.Name)
	if err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.Groups.ListForUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// discoverGroups lists joinable groups, newest first.
func (s *Server) discoverGroups(c *gin.Context) {
	limit := parseLimit(c, 50, 100)
	includeMine := c.Query("include_mine") == "true"
	groups, err := s.Groups.Discover(c.Request.Context(), CurrentUserID(c), c.Query("q"), includeMine, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) listGroupMembers(c *gin.Context) {
	members, err := s.Groups.Members(c.Request.Context(), c.Param("id"), CurrentUserID(c))
	if err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// listGroupOrders returns the group's order blotter; members only.
func (s *Server) listGroupOrders(c *gin.Context) {
	groupID := c.Param("id")
	role, err := s.Groups.Role(c.Request.Context(), groupID, CurrentUserID(c))
	if err != nil {
		respondGroupError(c, err)
		return
	}
	if role == "" {
		respondError(c, http.StatusForbidden, "NOT_MEMBER", "not a member of this group")
		return
	}
	openOnly := c.Query("open") == "true"
	limit := parseLimit(c, 100, 500)
	orders, err := s.DB.ListOrdersByGroup(c.Request.Context(), groupID, openOnly, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) joinGroup(c *gin.Context) {
	if err := s.Groups.Join(c.Request.Context(), c.Param("id"), CurrentUserID(c)); err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (s *Server) leaveGroup(c *gin.Context) {
	if err := s.Groups.Leave(c.Request.Context(), c.Param("id"), CurrentUserID(c)); err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (s *Server) renameGroup(c *gin.Context) {
	var req groupNameRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if err := s.Groups.Rename(c.Request.Context(), c.Param("id"), CurrentUserID(c), req.Name); err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "renamed"})
}

func (s *Server) setGroupRole(c *gin.Context) {
	var req groupRoleRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	err := s.Groups.SetRole(c.Request.Context(), c.Param("id"), CurrentUserID(c), c.Param("userID"), req.Role)
	if err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// deleteGroup removes a group and cancels its open orders; owners only.
func (s *Server) deleteGroup(c *gin.Context) {
	if err := s.Groups.Delete(c.Request.Context(), c.Param("id"), CurrentUserID(c)); err != nil {
		respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
