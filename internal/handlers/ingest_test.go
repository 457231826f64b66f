package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadflow/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProducer struct {
	streamID string
	err      error
	enqueued []*models.InboundEmail
}

func (s *stubProducer) EnqueueEmail(ctx context.Context, email *models.InboundEmail) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.enqueued = append(s.enqueued, email)
	return s.streamID, nil
}

func postJSON(t *testing.T, handler echo.HandlerFunc, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/emails", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler(c))
	return rec
}

func TestIngestEmailHandler(t *testing.T) {
	t.Run("valid record is queued", func(t *testing.T) {
		producer := &stubProducer{streamID: "1-1"}
		handler := IngestEmailHandler(producer)

		rec := postJSON(t, handler, `{
			"message_id": "<m1@customer.test>",
			"sender_email": "alice@customer.test",
			"subject": "Quote request",
			"body": "I need a quote",
			"received_at": "2026-08-30T10:00:00Z"
		}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp models.IngestAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Queued)
		assert.Equal(t, "1-1", resp.StreamID)
		assert.Equal(t, "m1@customer.test", resp.MessageID)
		require.Len(t, producer.enqueued, 1)
	})

	t.Run("missing message_id is rejected", func(t *testing.T) {
		producer := &stubProducer{}
		handler := IngestEmailHandler(producer)

		rec := postJSON(t, handler, `{"sender_email": "alice@customer.test"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, producer.enqueued)
	})

	t.Run("missing sender is rejected", func(t *testing.T) {
		producer := &stubProducer{}
		handler := IngestEmailHandler(producer)

		rec := postJSON(t, handler, `{"message_id": "<m1@customer.test>"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, producer.enqueued)
	})

	t.Run("missing received_at defaults to now", func(t *testing.T) {
		producer := &stubProducer{streamID: "1-2"}
		handler := IngestEmailHandler(producer)

		rec := postJSON(t, handler, `{
			"message_id": "<m2@customer.test>",
			"sender_email": "alice@customer.test"
		}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, producer.enqueued, 1)
		assert.False(t, producer.enqueued[0].ReceivedAt.IsZero())
	})

	t.Run("queue failure is a server error", func(t *testing.T) {
		producer := &stubProducer{err: errors.New("redis down")}
		handler := IngestEmailHandler(producer)

		rec := postJSON(t, handler, `{
			"message_id": "<m3@customer.test>",
			"sender_email": "alice@customer.test",
			"received_at": "2026-08-30T10:00:00Z"
		}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
