// Package server exposes the assistant over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/router"
	"github.com/olist-insight/server/internal/agent/sanitize"
	errx "github.com/olist-insight/server/internal/core/error"
	"github.com/olist-insight/server/internal/agent/repo"
	logx "github.com/olist-insight/server/pkg/logger"
)

// chatRequest is the wire shape of POST /chat. ConversationID is optional;
// when present and transcript persistence is enabled, the turn is recorded.
type chatRequest struct {
	Message        string          `json:"message" binding:"required"`
	History        []model.Turn    `json:"history"`
	AnswerLang     string          `json:"answer_lang"`
	State          json.RawMessage `json:"state"`
	ShowDebug      bool            `json:"show_debug"`
	ConversationID string          `json:"conversation_id"`
}

// Server routes HTTP requests to the turn router.
type Server struct {
	rt          *router.Router
	transcripts repo.TranscriptRepository
	engine      *gin.Engine
}

// New builds the HTTP server. transcripts may be nil to disable persistence.
func New(rt *router.Router, transcripts repo.TranscriptRepository) *Server {
	s := &Server{rt: rt, transcripts: transcripts}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", s.health)
	engine.POST("/chat", s.chat)
	engine.GET("/conversations/:id/transcript", s.transcript)
	engine.DELETE("/conversations/:id/transcript", s.clearTranscript)
	s.engine = engine
	return s
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error {
	logx.Info().Str("addr", addr).Msg("http server listening")
	return s.engine.Run(addr)
}

// Handler exposes the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	turn := model.TurnRequest{
		Message:    req.Message,
		History:    req.History,
		AnswerLang: model.ParseLang(req.AnswerLang),
		State:      req.State,
		ShowDebug:  req.ShowDebug,
	}

	resp, err := s.rt.Chat(c.Request.Context(), turn)
	if err != nil {
		status, detail := errorStatus(err)
		// the wrapped cause can carry internals (rejected SQL text, backend
		// errors), so it only leaves the process on debug turns
		if req.ShowDebug {
			detail = err.Error()
		}
		logx.Error().Err(err).Msg("chat turn failed")
		c.JSON(status, gin.H{"detail": detail})
		return
	}

	s.record(c, req, resp)

	out := map[string]any{
		"final_answer": resp.FinalAnswer,
		"used_tools":   resp.UsedTools,
		"state":        sanitize.Value(resp.State),
	}
	if req.ShowDebug {
		out["tool_outputs"] = sanitize.Value(resp.ToolOutputs)
		out["debug"] = sanitize.Value(resp.Debug)
	}
	c.JSON(http.StatusOK, out)
}

// errorStatus maps an error to its HTTP status and user-safe detail.
func errorStatus(err error) (int, string) {
	var appErr *errx.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Message
	}
	return http.StatusInternalServerError, errx.SystemErrorMessage
}

func (s *Server) transcript(c *gin.Context) {
	if s.transcripts == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "transcript persistence is not enabled"})
		return
	}
	id := c.Param("id")
	entries, err := s.transcripts.Load(c.Request.Context(), id)
	if err != nil {
		status, detail := errorStatus(err)
		logx.Error().Err(err).Str("conversationID", id).Msg("transcript load failed")
		c.JSON(status, gin.H{"detail": detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "turns": entries})
}

func (s *Server) clearTranscript(c *gin.Context) {
	if s.transcripts == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "transcript persistence is not enabled"})
		return
	}
	id := c.Param("id")
	if err := s.transcripts.Clear(c.Request.Context(), id); err != nil {
		status, detail := errorStatus(err)
		logx.Error().Err(err).Str("conversationID", id).Msg("transcript clear failed")
		c.JSON(status, gin.H{"detail": detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "status": "cleared"})
}

// record appends the turn to the transcript when persistence is configured.
// Transcript failures never fail the turn.
func (s *Server) record(c *gin.Context, req chatRequest, resp *model.TurnResponse) {
	if s.transcripts == nil || req.ConversationID == "" {
		return
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()

	if err := s.transcripts.Append(ctx, req.ConversationID, repo.TranscriptEntry{
		Role: model.RoleUser, Content: req.Message, At: now,
	}); err != nil {
		logx.Warn().Err(err).Str("conversationID", req.ConversationID).Msg("failed to record user turn")
		return
	}
	if err := s.transcripts.Append(ctx, req.ConversationID, repo.TranscriptEntry{
		Role: model.RoleAssistant, Content: resp.FinalAnswer,
		Intent: resp.State.LastIntent, UsedTools: resp.UsedTools, At: now,
	}); err != nil {
		logx.Warn().Err(err).Str("conversationID", req.ConversationID).Msg("failed to record assistant turn")
	}
}
