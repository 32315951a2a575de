package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/logging"
)

// detectionMessage is the wire format for published detections.
type detectionMessage struct {
	CameraID        string    `json:"camera_id"`
	Species         string    `json:"species"`
	Category        string    `json:"category,omitempty"`
	Kind            string    `json:"kind"`
	Confidence      float64   `json:"confidence"`
	Stage           int       `json:"stage"`
	TaxonomyVersion string    `json:"taxonomy_version"`
	Timestamp       time.Time `json:"timestamp"`
}

// attemptMessage is the wire format for published deterrent attempts.
type attemptMessage struct {
	AttemptID string    `json:"attempt_id"`
	CameraID  string    `json:"camera_id"`
	Category  string    `json:"category"`
	SoundID   string    `json:"sound_id"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes pipeline events under the configured topic prefix.
// Publishing is best effort: a broker outage never stalls a camera tick.
type Notifier struct {
	client Client
	topic  string
	logger *slog.Logger
}

// NewNotifier wraps a connected client with the topic layout.
func NewNotifier(client Client, settings *conf.MQTTSettings) *Notifier {
	return &Notifier{
		client: client,
		topic:  strings.TrimSuffix(settings.Topic, "/"),
		logger: logging.ForService("mqtt"),
	}
}

// PublishDetection announces one saved detection.
func (n *Notifier) PublishDetection(ctx context.Context, detection *datastore.Detection) {
	n.publish(ctx, n.topic+"/detections/"+detection.CameraID, detectionMessage{
		CameraID:        detection.CameraID,
		Species:         detection.Species,
		Category:        detection.Category,
		Kind:            detection.Kind,
		Confidence:      detection.Confidence,
		Stage:           detection.Stage,
		TaxonomyVersion: detection.TaxonomyVersion,
		Timestamp:       detection.CreatedAt,
	})
}

// PublishAttempt announces a deterrent attempt, either freshly created or
// resolved.
func (n *Notifier) PublishAttempt(ctx context.Context, attempt *datastore.DeterrentAttempt) {
	at := attempt.StartedAt
	if attempt.ResolvedAt != nil {
		at = *attempt.ResolvedAt
	}
	n.publish(ctx, n.topic+"/attempts/"+attempt.CameraID, attemptMessage{
		AttemptID: attempt.ID,
		CameraID:  attempt.CameraID,
		Category:  attempt.Category,
		SoundID:   attempt.SoundID,
		Outcome:   attempt.Outcome,
		Timestamp: at,
	})
}

func (n *Notifier) publish(ctx context.Context, topic string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		n.logger.Error("failed to marshal mqtt message", "topic", topic, "error", err)
		return
	}
	if err := n.client.Publish(ctx, topic, string(payload)); err != nil {
		n.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
