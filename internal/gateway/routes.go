package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dmorgan81/imagegateway/internal/bytez"
	"github.com/dmorgan81/imagegateway/internal/horde"
	"github.com/dmorgan81/imagegateway/internal/image"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const defaultSpeechModel = "tts-1"

type speechRequest struct {
	Input string `json:"input"`
	Text  string `json:"text"`
	Model string `json:"model"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

func errorMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message}})
}

func apiError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "type": "api_error"}})
}

func (s *Server) bytezSpeechModels(c *gin.Context) {
	s.bytezModels(c, bytez.TaskTextToSpeech)
}

func (s *Server) bytezImageModels(c *gin.Context) {
	s.bytezModels(c, bytez.TaskTextToImage)
}

func (s *Server) bytezModels(c *gin.Context, task string) {
	ctx := c.Request.Context()
	models, err := s.bytez.Models(ctx, task)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("failed to list bytez models", "task", task, "error", err)
		models = nil
	}
	c.JSON(http.StatusOK, upstream.NewModelList(models))
}

func (s *Server) bytezSpeech(c *gin.Context) {
	ctx := c.Request.Context()
	auth := c.GetHeader("Authorization")
	if auth == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
		return
	}

	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text := lo.Ternary(req.Input != "", req.Input, req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'input' parameter"})
		return
	}

	audio, err := s.bytez.Speech(ctx, auth, lo.Ternary(req.Model != "", req.Model, defaultSpeechModel), text)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("bytez speech failed", "error", err)
		errorMessage(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer audio.Body.Close()

	c.DataFromReader(http.StatusOK, audio.ContentLength, audio.ContentType, audio.Body, nil)
}

func (s *Server) bytezImage(c *gin.Context) {
	ctx := c.Request.Context()
	auth := c.GetHeader("Authorization")
	if auth == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
		return
	}

	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		errorMessage(c, http.StatusBadRequest, "Missing 'prompt' parameter")
		return
	}

	resp, err := s.bytez.Image(ctx, auth, lo.Ternary(req.Model != "", req.Model, image.Model), req.Prompt)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("bytez image failed", "error", err)
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// decodeHordeRequest reads a generation body one field at a time. Only the
// prompt is required; other fields of the wrong type are left at their
// defaults, and n may be a numeric string.
func decodeHordeRequest(body []byte) (horde.Request, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return horde.Request{}, false
	}

	var req horde.Request
	if err := json.Unmarshal(fields["prompt"], &req.Prompt); err != nil || req.Prompt == "" {
		return horde.Request{}, false
	}

	var n json.Number
	if err := json.Unmarshal(fields["n"], &n); err == nil {
		if v, err := n.Int64(); err == nil && v > 0 {
			req.N = int(v)
		}
	}
	_ = json.Unmarshal(fields["size"], &req.Size)
	_ = json.Unmarshal(fields["response_format"], &req.ResponseFormat)
	var params map[string]any
	if err := json.Unmarshal(fields["params"], &params); err == nil {
		req.Params = params
	}
	var models []string
	if err := json.Unmarshal(fields["models"], &models); err == nil {
		req.Models = models
	}
	return req, true
}

func (s *Server) hordeImage(c *gin.Context) {
	ctx := c.Request.Context()
	key := lo.Ternary(c.GetHeader("Authorization") != "", c.GetHeader("Authorization"), c.GetHeader("apikey"))

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorMessage(c, http.StatusBadRequest, err.Error())
		return
	}

	req, ok := decodeHordeRequest(body)
	if !ok {
		errorMessage(c, http.StatusBadRequest, "Missing 'prompt' parameter")
		return
	}

	resp, err := s.horde.Generate(ctx, key, req)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("horde generation failed", "error", err)
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) hordeModels(c *gin.Context) {
	ctx := c.Request.Context()
	models, err := s.horde.Models(ctx)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("failed to list horde models", "error", err)
		models = s.horde.DefaultModels()
	}
	c.JSON(http.StatusOK, upstream.NewModelList(models))
}
