package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/book-expert/speaker-service/internal/playback"
)

const commandQueue = 8

// DeviceLink subscribes a device to its command topic and mirrors controller
// state to its state topic. Play commands start one at a time, in arrival
// order, off the receive loop. A stop command takes effect as soon as it
// arrives and cancels every play that has not finished starting.
type DeviceLink struct {
	broker       Broker
	commandTopic string
	stateTopic   string
	player       playback.Player
	log          *logger.Logger
	commands     chan Command
}

type playRequest struct {
	ctx context.Context // cancelled by the next stop command
	url string
}

// NewDeviceLink creates a DeviceLink.
func NewDeviceLink(broker Broker, commandTopic, stateTopic string, player playback.Player, log *logger.Logger) *DeviceLink {
	return &DeviceLink{
		broker:       broker,
		commandTopic: commandTopic,
		stateTopic:   stateTopic,
		player:       player,
		log:          log,
		commands:     make(chan Command, commandQueue),
	}
}

// Run subscribes, publishes the current state and serves until ctx is done.
func (d *DeviceLink) Run(ctx context.Context) error {
	err := wait(d.broker.Subscribe(d.commandTopic, qosAtLeastOnce, d.handleMessage))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", d.commandTopic, err)
	}

	d.log.Info("Listening for commands on %s", d.commandTopic)
	d.publishState(d.player.Snapshot())

	plays := make(chan playRequest, commandQueue)

	var starter sync.WaitGroup

	starter.Add(1)

	go func() {
		defer starter.Done()

		d.startPlays(plays)
	}()

	epoch, cancelEpoch := context.WithCancel(ctx)

	defer func() {
		cancelEpoch()
		close(plays)
		starter.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			unsubErr := wait(d.broker.Unsubscribe(d.commandTopic))
			if unsubErr != nil {
				d.log.Warn("Failed to unsubscribe from %s: %v", d.commandTopic, unsubErr)
			}

			return nil
		case cmd := <-d.commands:
			switch cmd.Action {
			case ActionPlay:
				select {
				case plays <- playRequest{ctx: epoch, url: cmd.URL}:
				default:
					d.log.Warn("Dropping play command for %s: start queue full", cmd.URL)
				}
			case ActionStop:
				cancelEpoch()
				epoch, cancelEpoch = context.WithCancel(ctx)
				_ = d.player.Stop()
			default:
				d.log.Warn("Ignoring command with unknown action %q", cmd.Action)
			}
		case snapshot := <-d.player.Changes():
			d.publishState(snapshot)
		}
	}
}

// startPlays applies queued plays until plays is closed.
func (d *DeviceLink) startPlays(plays <-chan playRequest) {
	for req := range plays {
		err := d.player.Play(req.ctx, req.url)

		switch {
		case err == nil:
		case errors.Is(err, playback.ErrSuperseded):
			d.log.Info("Play command for %s was superseded", req.url)
		default:
			d.log.Warn("Play command for %s failed: %v", req.url, err)
		}
	}
}

func (d *DeviceLink) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command

	err := json.Unmarshal(msg.Payload(), &cmd)
	if err != nil {
		d.log.Warn("Ignoring malformed command on %s: %v", msg.Topic(), err)

		return
	}

	select {
	case d.commands <- cmd:
	default:
		d.log.Warn("Dropping %s command: queue full", cmd.Action)
	}
}

func (d *DeviceLink) publishState(snapshot playback.Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		d.log.Error("Failed to marshal state: %v", err)

		return
	}

	err = wait(d.broker.Publish(d.stateTopic, qosAtLeastOnce, true, payload))
	if err != nil {
		d.log.Warn("Failed to publish state to %s: %v", d.stateTopic, err)
	}
}
