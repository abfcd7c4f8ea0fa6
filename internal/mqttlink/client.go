// Package mqttlink carries play and stop commands from the server to speaker
// devices over MQTT, and device state snapshots back.
//
// Topics: speaker/<device_id>/command receives {"action":"play"|"stop","url"};
// speaker/<device_id>/state holds the retained latest playback snapshot.
package mqttlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	keepAlive      = 60 * time.Second
	pingTimeout    = 10 * time.Second
	publishTimeout = 5 * time.Second
	disconnectWait = 250
	qosAtLeastOnce = 1
)

// Command actions.
const (
	ActionPlay = "play"
	ActionStop = "stop"
)

// Static errors.
var (
	ErrBrokerRequired = errors.New("mqtt broker is required")
	ErrTimeout        = errors.New("mqtt operation timed out")
	ErrUnknownAction  = errors.New("unknown command action")
)

// Command is the payload of a command topic message.
type Command struct {
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
}

// Broker is the subset of mqtt.Client the link uses.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// ClientConfig holds MQTT client configuration.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg ClientConfig, log *logger.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, ErrBrokerRequired
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT connection established to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	// The broker keeps the device subscription across reconnects.
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return client, nil
}

// Disconnect closes client, giving in-flight work a short grace period.
func Disconnect(client mqtt.Client) {
	client.Disconnect(disconnectWait)
}

// wait bounds a token and returns its error.
func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return ErrTimeout
	}

	return token.Error()
}
