package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance/internal/auth"
	"attendance/internal/timetable"
)

type tokenRequest struct {
	Role       auth.Role          `json:"role" binding:"required,oneof=student teacher admin"`
	ID         string             `json:"id" binding:"required"`
	Name       string             `json:"name"`
	Class      timetable.ClassKey `json:"class"`
	RollNo     string             `json:"roll_no"`
	Department string             `json:"department"`
}

func (r tokenRequest) principal() (auth.Principal, error) {
	id := auth.Identity{ID: r.ID, Name: r.Name}
	switch r.Role {
	case auth.RoleStudent:
		if r.Class.Branch == "" || r.Class.Semester == "" {
			return nil, errors.New("student tokens need class branch and semester")
		}
		return auth.Student{Identity: id, Class: r.Class.Normalize(), RollNo: r.RollNo}, nil
	case auth.RoleTeacher:
		return auth.Teacher{Identity: id, Department: r.Department}, nil
	default:
		return auth.Admin{Identity: id}, nil
	}
}

// IssueToken issues a token pair for any principal. Guarded by the admin key.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := req.principal()
	if err != nil {
		badRequest(c, err)
		return
	}
	pair, err := auth.Issue(p, h.auth.Issuer, h.auth.SigningKey, h.auth.AccessTTL, h.auth.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, pair)
}

// RefreshToken trades a refresh token for a new pair.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := auth.Refresh(req.RefreshToken, h.auth.Issuer, h.auth.SigningKey, h.auth.AccessTTL, h.auth.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}
