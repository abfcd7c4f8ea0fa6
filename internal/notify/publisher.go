// Package notify announces published artifacts on the NATS bus so players
// and dashboards can react without polling the catalog.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speaker-service/internal/core"
)

// ErrSubjectEmpty indicates that no subject was configured.
var ErrSubjectEmpty = errors.New("subject cannot be empty")

// ArtifactCreatedEvent is published once per successful ingestion.
type ArtifactCreatedEvent struct {
	Header      events.EventHeader `json:"header"`
	ArtifactID  string             `json:"artifact_id"`
	PublicID    string             `json:"public_id"`
	URL         string             `json:"url"`
	Size        int64              `json:"size"`
	DisplayName string             `json:"display_name,omitempty"`
	Kind        string             `json:"kind"`
}

// Publisher publishes ArtifactCreatedEvent messages on a core NATS subject.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	tenantID       string
	log            *logger.Logger
}

// NewPublisher creates a Publisher for subject.
func NewPublisher(natsConnection *nats.Conn, subject, tenantID string, log *logger.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &Publisher{
		natsConnection: natsConnection,
		subject:        subject,
		tenantID:       tenantID,
		log:            log,
	}, nil
}

// ArtifactCreated publishes the event for artifact and flushes it to the server.
func (p *Publisher) ArtifactCreated(ctx context.Context, artifact core.Artifact, kind string) error {
	eventID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}

	event := ArtifactCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: artifact.PublicID,
			EventID:    eventID.String(),
			TenantID:   p.tenantID,
		},
		ArtifactID:  artifact.ID,
		PublicID:    artifact.PublicID,
		URL:         artifact.Location,
		Size:        artifact.Size,
		DisplayName: artifact.DisplayName,
		Kind:        kind,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact event: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", p.subject, err)
	}

	err = p.natsConnection.FlushWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to flush artifact event: %w", err)
	}

	p.log.Info("Announced artifact %s on %s", artifact.ID, p.subject)

	return nil
}
