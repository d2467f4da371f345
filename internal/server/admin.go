package server

import (
	"net/http"

	"github.com/amoylab/chatline/internal/i18n"
	"github.com/amoylab/chatline/internal/transport"

	"github.com/gin-gonic/gin"
)

type createChannelRequest struct {
	ID      string           `json:"id"`
	Creator transport.User   `json:"creator"`
	Members []transport.User `json:"members"`
}

type postRequest struct {
	User        transport.User         `json:"user"`
	Text        string                 `json:"text"`
	Attachments []transport.Attachment `json:"attachments"`
	ParentID    string                 `json:"parent_id"`
}

type markReadRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Creator.ID == "" {
		i18n.RespondWithError(c, i18n.ErrBadRequest)
		return
	}

	state, err := s.admin.CreateChannel(c.Request.Context(), req.ID, req.Creator, req.Members...)
	if err != nil {
		s.respondError(c, err, map[string]interface{}{"ChannelID": req.ID})
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handlePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.User.ID == "" {
		i18n.RespondWithError(c, i18n.ErrBadRequest)
		return
	}

	id := c.Param("id")
	msg, err := s.admin.Post(c.Request.Context(), id, transport.Message{
		User:        req.User,
		Text:        req.Text,
		Attachments: req.Attachments,
		ParentID:    req.ParentID,
	})
	if err != nil {
		s.respondError(c, err, map[string]interface{}{"ChannelID": id, "UserID": req.User.ID})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		i18n.RespondWithError(c, i18n.ErrBadRequest)
		return
	}

	id := c.Param("id")
	if err := s.admin.MarkRead(c.Request.Context(), id, req.UserID); err != nil {
		s.respondError(c, err, map[string]interface{}{"ChannelID": id, "UserID": req.UserID})
		return
	}
	c.Status(http.StatusNoContent)
}
