package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"leadflow/internal/ingest"
	"leadflow/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	err    error
	called []*models.InboundEmail
}

func (r *recordingProcessor) Process(ctx context.Context, email *models.InboundEmail) (*ingest.Result, error) {
	r.called = append(r.called, email)
	if r.err != nil {
		return nil, r.err
	}
	return &ingest.Result{}, nil
}

type recordingAlerter struct {
	reasons []string
}

func (r *recordingAlerter) SendTriageAlert(ctx context.Context, email *models.InboundEmail, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

// offline client: acks fail and are logged, which is fine for dispatch tests
func offlineClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func entryFor(t *testing.T, email *models.InboundEmail) redis.XMessage {
	payload, err := json.Marshal(email)
	require.NoError(t, err)
	return redis.XMessage{
		ID:     "1-1",
		Values: map[string]interface{}{"data": string(payload)},
	}
}

func TestDecode(t *testing.T) {
	email := &models.InboundEmail{
		MessageID:   "<m@customer.test>",
		SenderEmail: "alice@customer.test",
		ReceivedAt:  time.Now().UTC().Truncate(time.Second),
	}

	t.Run("round trip", func(t *testing.T) {
		decoded, err := decode(entryFor(t, email))
		require.NoError(t, err)
		assert.Equal(t, email.MessageID, decoded.MessageID)
		assert.Equal(t, email.SenderEmail, decoded.SenderEmail)
	})

	t.Run("missing data field", func(t *testing.T) {
		_, err := decode(redis.XMessage{ID: "1-2", Values: map[string]interface{}{}})
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := decode(redis.XMessage{ID: "1-3", Values: map[string]interface{}{"data": "{nope"}})
		assert.Error(t, err)
	})
}

func TestHandleDispatch(t *testing.T) {
	email := &models.InboundEmail{
		MessageID:   "<m@customer.test>",
		SenderEmail: "alice@customer.test",
		ReceivedAt:  time.Now(),
	}

	t.Run("success reaches the processor", func(t *testing.T) {
		proc := &recordingProcessor{}
		consumer, err := NewConsumer(offlineClient(), proc, nil, 1, zerolog.Nop())
		require.NoError(t, err)

		consumer.handle(context.Background(), entryFor(t, email))
		require.Len(t, proc.called, 1)
		assert.Equal(t, email.MessageID, proc.called[0].MessageID)
	})

	t.Run("permanent failure triggers triage", func(t *testing.T) {
		proc := &recordingProcessor{err: ingest.Permanent("bad record", nil)}
		alerter := &recordingAlerter{}
		consumer, err := NewConsumer(offlineClient(), proc, alerter, 1, zerolog.Nop())
		require.NoError(t, err)

		consumer.handle(context.Background(), entryFor(t, email))
		require.Len(t, alerter.reasons, 1)
		assert.Contains(t, alerter.reasons[0], "bad record")
	})

	t.Run("transient failure skips triage for redelivery", func(t *testing.T) {
		proc := &recordingProcessor{err: errors.New("db down")}
		alerter := &recordingAlerter{}
		consumer, err := NewConsumer(offlineClient(), proc, alerter, 1, zerolog.Nop())
		require.NoError(t, err)

		consumer.handle(context.Background(), entryFor(t, email))
		assert.Empty(t, alerter.reasons)
	})

	t.Run("reclaim scan continues past an empty page", func(t *testing.T) {
		proc := &recordingProcessor{}
		consumer, err := NewConsumer(offlineClient(), proc, nil, 1, zerolog.Nop())
		require.NoError(t, err)

		// First page claims nothing but the cursor has not wrapped yet;
		// the entry behind it must still be reclaimed this tick.
		var starts []string
		claim := func(ctx context.Context, start string) ([]redis.XMessage, string, error) {
			starts = append(starts, start)
			switch start {
			case "0-0":
				return nil, "7-0", nil
			case "7-0":
				return []redis.XMessage{entryFor(t, email)}, "0-0", nil
			default:
				t.Fatalf("unexpected claim cursor %s", start)
				return nil, "", nil
			}
		}

		consumer.reclaimPending(context.Background(), claim)
		assert.Equal(t, []string{"0-0", "7-0"}, starts)
		require.Len(t, proc.called, 1)
		assert.Equal(t, email.MessageID, proc.called[0].MessageID)
	})

	t.Run("reclaim scan stops on error", func(t *testing.T) {
		proc := &recordingProcessor{}
		consumer, err := NewConsumer(offlineClient(), proc, nil, 1, zerolog.Nop())
		require.NoError(t, err)

		calls := 0
		claim := func(ctx context.Context, start string) ([]redis.XMessage, string, error) {
			calls++
			return nil, "3-0", errors.New("connection lost")
		}

		consumer.reclaimPending(context.Background(), claim)
		assert.Equal(t, 1, calls)
		assert.Empty(t, proc.called)
	})

	t.Run("undecodable entry goes to triage without the processor", func(t *testing.T) {
		proc := &recordingProcessor{}
		alerter := &recordingAlerter{}
		consumer, err := NewConsumer(offlineClient(), proc, alerter, 1, zerolog.Nop())
		require.NoError(t, err)

		consumer.handle(context.Background(), redis.XMessage{
			ID:     "9-9",
			Values: map[string]interface{}{"data": "{nope"},
		})
		assert.Empty(t, proc.called)
		require.Len(t, alerter.reasons, 1)
	})
}
