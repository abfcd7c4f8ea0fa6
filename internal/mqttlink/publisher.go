package mqttlink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/book-expert/speaker-service/internal/core"
)

// Publisher sends commands to devices. It runs on the server.
type Publisher struct {
	broker       Broker
	commandTopic func(deviceID string) string
	log          *logger.Logger
}

// NewPublisher creates a Publisher. commandTopic renders a device's command topic.
func NewPublisher(broker Broker, commandTopic func(deviceID string) string, log *logger.Logger) *Publisher {
	return &Publisher{broker: broker, commandTopic: commandTopic, log: log}
}

// Send publishes cmd to deviceID.
func (p *Publisher) Send(deviceID string, cmd Command) error {
	err := validateCommand(deviceID, cmd)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := p.commandTopic(deviceID)

	err = wait(p.broker.Publish(topic, qosAtLeastOnce, false, payload))
	if err != nil {
		return fmt.Errorf("failed to publish command to %s: %w", topic, err)
	}

	p.log.Info("Sent %s command to %s", cmd.Action, topic)

	return nil
}

func validateCommand(deviceID string, cmd Command) error {
	// Wildcards or separators would address more than one device.
	if !audiofile.ValidID(deviceID) || strings.ContainsAny(deviceID, "+#") {
		return fmt.Errorf("%w: invalid device id %q", core.ErrValidation, deviceID)
	}

	switch cmd.Action {
	case ActionPlay:
		if strings.TrimSpace(cmd.URL) == "" {
			return fmt.Errorf("%w: play command requires a url", core.ErrValidation)
		}
	case ActionStop:
	default:
		return fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrUnknownAction, cmd.Action)
	}

	return nil
}
