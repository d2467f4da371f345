package server

import (
	"io"
	"net/http"

	"github.com/amoylab/chatline/internal/chat"
	"github.com/amoylab/chatline/internal/i18n"
	"github.com/amoylab/chatline/internal/transport"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type connectRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) view(c *gin.Context) chat.View {
	return s.manager.ViewIn(i18n.LabelsFor(i18n.LanguageFromContext(c)))
}

func (s *Server) respondView(c *gin.Context) {
	c.JSON(http.StatusOK, s.view(c))
}

func (s *Server) respondError(c *gin.Context, err error, params map[string]interface{}) {
	s.logger.Debug("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	i18n.RespondWithError(c, httpError(err, params))
}

func (s *Server) handleState(c *gin.Context) {
	s.respondView(c)
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		i18n.RespondWithError(c, i18n.ErrBadRequest)
		return
	}

	identity := transport.User{ID: req.ID, Name: req.Name, Image: req.Image}
	if err := s.manager.ConnectSession(c.Request.Context(), identity); err != nil {
		s.respondError(c, err, map[string]interface{}{"UserID": req.ID})
		return
	}
	s.respondView(c)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.manager.DisconnectSession(c.Request.Context())
	s.respondView(c)
}

func (s *Server) handleConversations(c *gin.Context) {
	v := s.view(c)
	if v.State != chat.StateConnected {
		s.respondError(c, chat.ErrNotConnected, nil)
		return
	}
	i18n.RespondOK(c, gin.H{"conversations": v.Conversations})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.manager.RefreshConversations(c.Request.Context()); err != nil {
		s.respondError(c, err, nil)
		return
	}
	s.respondView(c)
}

func (s *Server) handleOpen(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.OpenConversation(c.Request.Context(), id); err != nil {
		s.respondError(c, err, map[string]interface{}{"ChannelID": id})
		return
	}
	s.respondView(c)
}

func (s *Server) handleActive(c *gin.Context) {
	v := s.view(c)
	i18n.RespondOK(c, gin.H{"active": v.Active, "messages": v.Messages})
}

func (s *Server) handleCloseActive(c *gin.Context) {
	s.manager.CloseConversation()
	s.respondView(c)
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		i18n.RespondWithError(c, i18n.ErrBadRequest)
		return
	}
	if err := s.manager.SendMessage(c.Request.Context(), req.Text); err != nil {
		s.respondError(c, err, nil)
		return
	}
	s.respondView(c)
}

// handleStream pushes the view as server-sent events after every change.
// Bursts of changes collapse into one event.
func (s *Server) handleStream(c *gin.Context) {
	changed := make(chan struct{}, 1)
	release := s.manager.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer release()

	c.SSEvent("view", s.view(c))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-s.done:
			return false
		case <-changed:
			c.SSEvent("view", s.view(c))
			return true
		}
	})
}
