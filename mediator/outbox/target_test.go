//go:build unit

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/folioworks/lib-mediator/mediator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resumeCreatedEvent struct {
	ResumeID string `json:"resumeId"`
	OwnerID  string `json:"ownerId"`
}

func (resumeCreatedEvent) MessageName() string { return "resume.created" }

func decodeResumeCreated(payload []byte) (mediator.Notification, error) {
	var event resumeCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	return event, nil
}

func TestPublisherTarget_RegisterDecoder(t *testing.T) {
	t.Parallel()

	publisher, err := mediator.NewPublisher(mediator.NewRegistry())
	require.NoError(t, err)

	target, err := NewPublisherTarget(publisher)
	require.NoError(t, err)

	require.NoError(t, target.RegisterDecoder("resume.created", decodeResumeCreated))

	err = target.RegisterDecoder("resume.created", decodeResumeCreated)
	assert.ErrorIs(t, err, ErrDecoderAlreadyRegistered)

	err = target.RegisterDecoder("  ", decodeResumeCreated)
	assert.ErrorIs(t, err, ErrEventTypeRequired)
}

func TestPublisherTarget_Deliver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("publishes_decoded_notification", func(t *testing.T) {
		t.Parallel()

		registry := mediator.NewRegistry()

		var received resumeCreatedEvent
		require.NoError(t, mediator.RegisterNotificationHandler[resumeCreatedEvent](
			registry,
			mediator.NotificationHandlerFunc[resumeCreatedEvent](
				func(_ context.Context, event resumeCreatedEvent) error {
					received = event
					return nil
				},
			),
		))

		publisher, err := mediator.NewPublisher(registry)
		require.NoError(t, err)

		target, err := NewPublisherTarget(publisher)
		require.NoError(t, err)
		require.NoError(t, target.RegisterDecoder("resume.created", decodeResumeCreated))

		entry, err := NewEntry(ctx, "res-1", "resume", "resume.created", []byte(`{"resumeId":"res-1","ownerId":"usr-9"}`))
		require.NoError(t, err)

		require.NoError(t, target.Deliver(ctx, entry))
		assert.Equal(t, "res-1", received.ResumeID)
		assert.Equal(t, "usr-9", received.OwnerID)
	})

	t.Run("missing_decoder", func(t *testing.T) {
		t.Parallel()

		publisher, err := mediator.NewPublisher(mediator.NewRegistry())
		require.NoError(t, err)

		target, err := NewPublisherTarget(publisher)
		require.NoError(t, err)

		entry, err := NewEntry(ctx, "res-1", "resume", "resume.deleted", []byte(`{}`))
		require.NoError(t, err)

		assert.ErrorIs(t, target.Deliver(ctx, entry), ErrDecoderNotRegistered)
	})

	t.Run("decode_failure", func(t *testing.T) {
		t.Parallel()

		publisher, err := mediator.NewPublisher(mediator.NewRegistry())
		require.NoError(t, err)

		target, err := NewPublisherTarget(publisher)
		require.NoError(t, err)

		decodeErr := errors.New("schema version unsupported")
		require.NoError(t, target.RegisterDecoder("resume.created", func([]byte) (mediator.Notification, error) {
			return nil, decodeErr
		}))

		entry, err := NewEntry(ctx, "res-1", "resume", "resume.created", []byte(`{}`))
		require.NoError(t, err)

		assert.ErrorIs(t, target.Deliver(ctx, entry), decodeErr)
	})
}

// The full producer-to-consumer path: a command handler stages an entry in
// the same logical transaction as its state change, the relay picks it up
// and fans the decoded notification out to subscribers.
func TestOutbox_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	type createResumeCommand struct {
		ResumeID string
		OwnerID  string
	}

	// Staging side: command handler writes aggregate + entry atomically.
	handleCreateResume := func(ctx context.Context, command createResumeCommand) error {
		tx := store.Begin()

		payload, err := json.Marshal(resumeCreatedEvent{ResumeID: command.ResumeID, OwnerID: command.OwnerID})
		if err != nil {
			return err
		}

		entry, err := NewEntry(ctx, command.ResumeID, "resume", "resume.created", payload)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		if _, err := tx.Create(ctx, entry); err != nil {
			_ = tx.Rollback()
			return err
		}

		return tx.Commit()
	}

	require.NoError(t, handleCreateResume(ctx, createResumeCommand{ResumeID: "res-42", OwnerID: "usr-7"}))

	// Consumer side: notification handlers behind a publisher target.
	registry := mediator.NewRegistry()

	var projected []string
	require.NoError(t, mediator.RegisterNotificationHandler[resumeCreatedEvent](
		registry,
		mediator.NotificationHandlerFunc[resumeCreatedEvent](
			func(_ context.Context, event resumeCreatedEvent) error {
				projected = append(projected, event.ResumeID)
				return nil
			},
		),
	))

	publisher, err := mediator.NewPublisher(registry)
	require.NoError(t, err)

	target, err := NewPublisherTarget(publisher)
	require.NoError(t, err)
	require.NoError(t, target.RegisterDecoder("resume.created", decodeResumeCreated))

	relay, err := NewRelay(store, target, nil, nil)
	require.NoError(t, err)

	result := relay.RelayOnceResult(ctx)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, []string{"res-42"}, projected)

	// Redelivery is harmless but must not happen without cause.
	assert.Zero(t, relay.RelayOnce(ctx))
}
