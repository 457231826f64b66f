package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"leadflow/internal/config"
	"leadflow/internal/k8s"

	"github.com/labstack/echo/v4"
)

// TriggerBackfillRequest carries optional backfill job parameters
type TriggerBackfillRequest struct {
	MailboxPath string `json:"mailbox_path"` // Optional: path inside the mailbox archive volume
}

// TriggerBackfillResponse is the result of launching a backfill job
type TriggerBackfillResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobName string `json:"job_name,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TriggerBackfillHandler launches a Kubernetes Job that replays an archived
// mailbox through the ingest queue
// @Summary Trigger a historical backfill job
// @Description Launches a Kubernetes Job that parses an archived mailbox and queues its emails for classification
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body TriggerBackfillRequest false "Backfill job parameters"
// @Success 200 {object} TriggerBackfillResponse
// @Failure 400 {object} TriggerBackfillResponse
// @Failure 500 {object} TriggerBackfillResponse
// @Router /api/admin/backfill [post]
func TriggerBackfillHandler(cfg *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req TriggerBackfillRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, TriggerBackfillResponse{
				Success: false,
				Error:   "Invalid request body",
			})
		}

		mailboxPath := req.MailboxPath
		if mailboxPath == "" {
			mailboxPath = "/mailbox"
		}

		jobName := fmt.Sprintf("lead-backfill-%d", time.Now().Unix())

		k8sClient, err := k8s.NewClient(cfg.BackfillNamespace)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, TriggerBackfillResponse{
				Success: false,
				Error:   fmt.Sprintf("Failed to create Kubernetes client: %v", err),
			})
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
		defer cancel()

		if err := k8sClient.CreateBackfillJob(ctx, jobName, cfg.BackfillImage, mailboxPath); err != nil {
			return c.JSON(http.StatusInternalServerError, TriggerBackfillResponse{
				Success: false,
				Error:   fmt.Sprintf("Failed to create job: %v", err),
			})
		}

		return c.JSON(http.StatusOK, TriggerBackfillResponse{
			Success: true,
			Message: "Backfill job launched",
			JobName: jobName,
		})
	}
}
