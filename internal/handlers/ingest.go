package handlers

import (
	"context"
	"net/http"
	"time"

	"leadflow/internal/models"
	"leadflow/internal/utils"

	"github.com/labstack/echo/v4"
)

// EmailProducer is the queue-facing subset of the stream producer
type EmailProducer interface {
	EnqueueEmail(ctx context.Context, email *models.InboundEmail) (string, error)
}

// IngestEmailHandler accepts a pre-parsed inbound email record and queues it
// for classification
// @Summary Queue an inbound email
// @Description Accepts a pre-parsed email record and queues it for classification
// @Tags Emails
// @Accept json
// @Produce json
// @Param email body models.InboundEmail true "Email record"
// @Success 202 {object} models.IngestAccepted
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/emails [post]
func IngestEmailHandler(producer EmailProducer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var email models.InboundEmail
		if err := c.Bind(&email); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid email record payload"})
		}

		if utils.CleanMessageID(email.MessageID) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "message_id is required"})
		}
		if utils.NormalizeAddress(email.SenderEmail) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "sender_email is required"})
		}
		if email.ReceivedAt.IsZero() {
			email.ReceivedAt = time.Now().UTC()
		}

		streamID, err := producer.EnqueueEmail(c.Request().Context(), &email)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to queue email record"})
		}

		return c.JSON(http.StatusAccepted, models.IngestAccepted{
			Queued:    true,
			StreamID:  streamID,
			MessageID: utils.CleanMessageID(email.MessageID),
		})
	}
}
