package httpapi

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollbook/internal/interchange"
	"rollbook/internal/records"
)

func (s *server) listMembers(c *gin.Context) {
	members, err := s.store.LoadMembers(c.Request.Context(), !fresh(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *server) addMember(c *gin.Context) {
	var req records.Member
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := s.store.AddMember(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *server) saveMembers(c *gin.Context) {
	var req struct {
		Members []records.Member `json:"members" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.store.SaveMembers(c.Request.Context(), req.Members); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": len(req.Members)})
}

func (s *server) duplicates(c *gin.Context) {
	groups, err := s.store.FindDuplicates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if groups == nil {
		groups = []records.DuplicateGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"duplicates": groups})
}

func (s *server) exportMembers(c *gin.Context) {
	members, err := s.store.LoadMembers(c.Request.Context(), !fresh(c))
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := interchange.WriteMembers(&buf, members); err != nil {
		writeError(c, err)
		return
	}
	sendCSV(c, "members.csv", buf.Bytes())
}

func (s *server) importMembers(c *gin.Context) {
	body, ok := csvBody(c)
	if !ok {
		return
	}
	defer body.Close()
	members, err := interchange.ReadMembers(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.store.MergeMembers(c.Request.Context(), members)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
