package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"leadflow/internal/cache"
	"leadflow/internal/conversations"
	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/labstack/echo/v4"
)

const readCacheTTL = 30 * time.Second

// GetConversationHandler returns one conversation with its messages
// @Summary Get a conversation
// @Description Returns a conversation with its messages ordered oldest first
// @Tags Conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {object} models.ConversationWithMessages
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/conversations/{id} [get]
func GetConversationHandler(convs *conversations.Manager, store *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid conversation id"})
		}

		cacheKey := fmt.Sprintf("conversation:%d", id)
		if store != nil {
			if cached, ok := store.Get(cacheKey); ok {
				return c.JSON(http.StatusOK, cached)
			}
		}

		conv, err := convs.GetByID(c.Request().Context(), id)
		if errors.Is(err, conversations.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "conversation not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load conversation"})
		}

		if store != nil {
			store.Set(cacheKey, conv, readCacheTTL)
		}
		return c.JSON(http.StatusOK, conv)
	}
}

// GetLeadConversationHandler returns the conversation a lead belongs to
// @Summary Get a lead's conversation
// @Tags Conversations
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} models.ConversationWithMessages
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/leads/{id}/conversation [get]
func GetLeadConversationHandler(convs *conversations.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid lead id"})
		}

		conv, err := convs.GetByLead(c.Request().Context(), id)
		if errors.Is(err, conversations.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "lead has no conversation"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load conversation"})
		}

		return c.JSON(http.StatusOK, conv)
	}
}

// GetLeadTimelineHandler returns the chronological timeline for a lead
// @Summary Get a lead's timeline
// @Description Merges lead creation and all conversation messages chronologically
// @Tags Conversations
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} models.ConversationTimeline
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/leads/{id}/timeline [get]
func GetLeadTimelineHandler(convs *conversations.Manager, store *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid lead id"})
		}

		cacheKey := fmt.Sprintf("timeline:%d", id)
		if store != nil {
			if cached, ok := store.Get(cacheKey); ok {
				return c.JSON(http.StatusOK, cached)
			}
		}

		timeline, err := convs.Timeline(c.Request().Context(), id)
		if errors.Is(err, conversations.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "lead not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to build timeline"})
		}

		if store != nil {
			store.Set(cacheKey, timeline, readCacheTTL)
		}
		return c.JSON(http.StatusOK, timeline)
	}
}

// ListConversationsHandler returns recent conversations, optionally filtered
// by participant address
// @Summary List conversations
// @Tags Conversations
// @Produce json
// @Param sender query string false "Filter by participant address"
// @Param limit query int false "Max results (default 50)"
// @Success 200 {array} models.ConversationSummary
// @Router /api/conversations [get]
func ListConversationsHandler(convs *conversations.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if sender := c.QueryParam("sender"); sender != "" {
			summaries, err := convs.ListBySender(ctx, utils.NormalizeAddress(sender))
			if err != nil {
				return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list conversations"})
			}
			return c.JSON(http.StatusOK, summaries)
		}

		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		summaries, err := convs.ListRecent(ctx, limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list conversations"})
		}
		return c.JSON(http.StatusOK, summaries)
	}
}
