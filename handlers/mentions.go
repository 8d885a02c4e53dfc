package handlers

import (
	"net/http"
	"strconv"

	"mention-engine/apperr"
	"mention-engine/engine"
	"mention-engine/middleware"

	"github.com/gin-gonic/gin"
)

// MentionsHandler is a thin dispatcher binding HTTP requests onto
// engine operations.
type MentionsHandler struct {
	Engine *engine.Engine
}

func NewMentionsHandler(e *engine.Engine) *MentionsHandler {
	return &MentionsHandler{Engine: e}
}

// ListMentions handles GET /v1/mentions.
func (h *MentionsHandler) ListMentions(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	waitMs := 2000
	if v := c.Query("waitMs"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			waitMs = parsed
		}
	}

	result, err := h.Engine.ListMentions(c.Request.Context(), engine.ListMentionsParams{WaitMs: waitMs, Actor: actor})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result.Result,
		"meta": gin.H{
			"isSyncing": result.Meta.IsSyncing,
			"errors":    result.Meta.Errors,
		},
	})
}

type updateMentionRequest struct {
	UserID      *int64  `json:"userId"`
	Disposition *string `json:"disposition"`
	// userIdProvided/clearUserID are derived from raw JSON presence in
	// UpdateMention below, since Go's JSON decoding cannot distinguish
	// "absent" from "present but null" on its own without a pointer-to-
	// raw-message check.
}

// UpdateMention handles PUT /v1/mentions/:id.
func (h *MentionsHandler) UpdateMention(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperr.New(apperr.Validation, "invalid mention id"))
		return
	}

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		respondError(c, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}

	patch := engine.UpdateMentionPatch{}
	if v, present := raw["userId"]; present {
		if v == nil {
			patch.ClearUserID = true
		} else if f, ok := v.(float64); ok {
			uid := int64(f)
			patch.UserID = &uid
		}
	}
	if v, ok := raw["disposition"].(string); ok {
		patch.Disposition = &v
	}

	mention, err := h.Engine.UpdateMention(c.Request.Context(), id, patch, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mention)
}

type replyRequest struct {
	Content string `json:"content" binding:"required"`
}

// ReplyToMention handles POST /v1/mentions/:id/reply.
func (h *MentionsHandler) ReplyToMention(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperr.New(apperr.Validation, "invalid mention id"))
		return
	}

	var body replyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.Validation, "content is required", err))
		return
	}

	task, err := h.Engine.ReplyToMention(c.Request.Context(), engine.ReplyToMentionParams{
		MentionID: id,
		Content:   body.Content,
		Actor:     actor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}
