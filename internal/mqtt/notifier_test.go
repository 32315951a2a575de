package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	topics   []string
	payloads []string
	err      error
}

func (r *recordingClient) Connect(context.Context) error { return nil }
func (r *recordingClient) IsConnected() bool             { return true }
func (r *recordingClient) Disconnect()                   {}

func (r *recordingClient) Publish(_ context.Context, topic, payload string) error {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return r.err
}

func TestPublishDetectionTopicAndPayload(t *testing.T) {
	client := &recordingClient{}
	notifier := NewNotifier(client, &conf.MQTTSettings{Topic: "foewatch/"})

	notifier.PublishDetection(context.Background(), &datastore.Detection{
		CameraID:        "patio",
		Species:         "European Magpie",
		Category:        "CROWS",
		Kind:            datastore.KindFoe,
		Confidence:      0.91,
		Stage:           2,
		TaxonomyVersion: "2025.1",
		CreatedAt:       time.Now(),
	})

	require.Len(t, client.topics, 1)
	assert.Equal(t, "foewatch/detections/patio", client.topics[0])

	var message map[string]any
	require.NoError(t, json.Unmarshal([]byte(client.payloads[0]), &message))
	assert.Equal(t, "European Magpie", message["species"])
	assert.Equal(t, "CROWS", message["category"])
	assert.Equal(t, "foe", message["kind"])
}

func TestPublishAttemptUsesResolutionTime(t *testing.T) {
	client := &recordingClient{}
	notifier := NewNotifier(client, &conf.MQTTSettings{Topic: "foewatch"})

	resolved := time.Now()
	notifier.PublishAttempt(context.Background(), &datastore.DeterrentAttempt{
		ID:         "a-1",
		CameraID:   "patio",
		Category:   "CROWS",
		SoundID:    "hawk-cry",
		StartedAt:  resolved.Add(-2 * time.Minute),
		Outcome:    datastore.OutcomeSuccess,
		ResolvedAt: &resolved,
	})

	require.Len(t, client.topics, 1)
	assert.Equal(t, "foewatch/attempts/patio", client.topics[0])

	var message attemptMessage
	require.NoError(t, json.Unmarshal([]byte(client.payloads[0]), &message))
	assert.Equal(t, datastore.OutcomeSuccess, message.Outcome)
	assert.WithinDuration(t, resolved, message.Timestamp, time.Second)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	client := &recordingClient{err: assert.AnError}
	notifier := NewNotifier(client, &conf.MQTTSettings{Topic: "foewatch"})

	// must not panic or propagate
	notifier.PublishDetection(context.Background(), &datastore.Detection{CameraID: "patio"})
	assert.Len(t, client.topics, 1)
}
