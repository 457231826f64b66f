package handlers

import (
	"errors"
	"net/http"
	"time"

	"leadflow/internal/cache"
	"leadflow/internal/conversations"
	"leadflow/internal/database"
	"leadflow/internal/leads"
	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
)

// RecordOutboundHandler records an email we sent so future replies can be
// threaded back to it. Also moves the lead from new to responded.
// @Summary Record an outbound email
// @Description Records a sent email against its lead's conversation
// @Tags Emails
// @Accept json
// @Produce json
// @Param message body models.OutboundEmail true "Outbound email record"
// @Success 201 {object} models.EmailMessage
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/messages/outbound [post]
func RecordOutboundHandler(db *sqlx.DB, convs *conversations.Manager, leadMgr *leads.Manager, store *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		var out models.OutboundEmail
		if err := c.Bind(&out); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid outbound record payload"})
		}

		if utils.CleanMessageID(out.MessageID) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "message_id is required"})
		}
		if out.LeadID <= 0 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "lead_id is required"})
		}
		if out.SentAt.IsZero() {
			out.SentAt = time.Now().UTC()
		}

		ctx := c.Request().Context()

		lead, err := leadMgr.GetByID(ctx, out.LeadID)
		if errors.Is(err, leads.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "lead not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load lead"})
		}
		if lead.ConversationID == nil {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "lead has no conversation"})
		}

		var msg *models.EmailMessage
		err = database.WithSenderLock(ctx, db, lead.SenderEmail, func(tx *sqlx.Tx) error {
			var txErr error
			msg, txErr = convs.RecordOutbound(ctx, tx, *lead.ConversationID, &out)
			if txErr != nil {
				return txErr
			}
			return leadMgr.MarkResponded(ctx, tx, lead.ID)
		})
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == "23505" {
				return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "message_id already recorded"})
			}
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to record outbound message"})
		}

		if store != nil {
			store.InvalidatePrefix("conversation:")
			store.InvalidatePrefix("timeline:")
		}

		return c.JSON(http.StatusCreated, msg)
	}
}
