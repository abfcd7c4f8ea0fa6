// Package config provides the configuration structure for the speaker service and device.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendNATS  = "nats"
)

// Synthesis providers.
const (
	ProviderHTTP   = "http"
	ProviderGoogle = "google"
)

// Defaults applied to unset fields.
const (
	defaultListenAddr         = ":3000"
	defaultDeviceListenAddr   = ":80"
	defaultPublicBaseURL      = "http://localhost:3000"
	defaultMaxUploadBytes     = 50 << 20
	defaultUploadsDir         = "uploads"
	defaultTempDir            = "uploads/tmp"
	defaultStaticPrefix       = "/uploads/"
	defaultFolder             = "speaker"
	defaultBucket             = "SPEAKER_AUDIO"
	defaultTextSubject        = "speaker.tts.request"
	defaultArtifactSubject    = "speaker.artifact.created"
	defaultTranscoderBinary   = "ffmpeg"
	defaultTTSTimeoutSeconds  = 30
	defaultTTSLanguage        = "en"
	defaultMQTTClientID       = "speaker-service"
	defaultCommandTopic       = "speaker/%s/command"
	defaultStateTopic         = "speaker/%s/state"
	defaultDeviceID           = "speaker-1"
	defaultGraceDelayMillis   = 100
	defaultPollIntervalMillis = 5
	defaultChunkBytes         = 4096
	defaultLogsDir            = "logs"
	defaultServiceName        = "speaker-service"
	defaultMetricsPath        = "/metrics"
)

// Environment variables that override file values.
const (
	envNATSURL        = "NATS_URL"
	envMQTTBroker     = "MQTT_BROKER"
	envMQTTUsername   = "MQTT_USERNAME"
	envMQTTPassword   = "MQTT_PASSWORD"
	envTTSServiceURL  = "TTS_SERVICE_URL"
	envStorageBackend = "STORAGE_BACKEND"
	envPublicBaseURL  = "PUBLIC_BASE_URL"
)

// Validation errors.
var (
	ErrUnknownBackend  = errors.New("unknown storage backend")
	ErrUnknownProvider = errors.New("unknown tts provider")
	ErrNATSURLRequired = errors.New("nats url is required for the nats storage backend")
	ErrTTSURLRequired  = errors.New("tts service url is required for the http provider")
)

// ServerConfig holds the HTTP ingestion server settings.
type ServerConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	PublicBaseURL  string `toml:"public_base_url"`
	TempDir        string `toml:"temp_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// StorageConfig selects and configures the artifact backend.
type StorageConfig struct {
	Backend      string `toml:"backend"`
	UploadsDir   string `toml:"uploads_dir"`
	StaticPrefix string `toml:"static_prefix"`
	Folder       string `toml:"folder"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	ObjectStoreBucket      string `toml:"object_store_bucket"`
	TextToAudioSubject     string `toml:"text_to_audio_subject"`
	ArtifactCreatedSubject string `toml:"artifact_created_subject"`
}

// TranscoderConfig holds the external transcoder settings.
type TranscoderConfig struct {
	BinaryPath string `toml:"binary_path"`
}

// TTSConfig holds the speech synthesis settings.
type TTSConfig struct {
	Provider       string  `toml:"provider"`
	ServiceURL     string  `toml:"service_url"`
	Voice          string  `toml:"voice"`
	Language       string  `toml:"language"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// MQTTConfig holds the device command link settings.
type MQTTConfig struct {
	Broker       string `toml:"broker"`
	ClientID     string `toml:"client_id"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	CommandTopic string `toml:"command_topic"`
	StateTopic   string `toml:"state_topic"`
}

// DeviceConfig holds the playback device settings.
type DeviceConfig struct {
	ListenAddr         string `toml:"listen_addr"`
	DeviceID           string `toml:"device_id"`
	AmplifierGPIOPath  string `toml:"amplifier_gpio_path"`
	PCMOutputPath      string `toml:"pcm_output_path"`
	GraceDelayMillis   int    `toml:"grace_delay_ms"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	ChunkBytes         int    `toml:"chunk_bytes"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// TelemetryConfig holds the metrics settings.
type TelemetryConfig struct {
	ServiceName string `toml:"service_name"`
	MetricsPath string `toml:"metrics_path"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	NATS       NATSConfig       `toml:"nats"`
	Transcoder TranscoderConfig `toml:"transcoder"`
	TTS        TTSConfig        `toml:"tts"`
	MQTT       MQTTConfig       `toml:"mqtt"`
	Device     DeviceConfig     `toml:"device"`
	Paths      PathsConfig      `toml:"paths"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides endpoints and secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	overrides := []struct {
		key    string
		target *string
	}{
		{envNATSURL, &c.NATS.URL},
		{envMQTTBroker, &c.MQTT.Broker},
		{envMQTTUsername, &c.MQTT.Username},
		{envMQTTPassword, &c.MQTT.Password},
		{envTTSServiceURL, &c.TTS.ServiceURL},
		{envStorageBackend, &c.Storage.Backend},
		{envPublicBaseURL, &c.Server.PublicBaseURL},
	}

	for _, override := range overrides {
		if value := getenv(override.key); value != "" {
			*override.target = value
		}
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.ListenAddr, defaultListenAddr)
	setString(&c.Server.PublicBaseURL, defaultPublicBaseURL)
	setString(&c.Server.TempDir, defaultTempDir)

	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = defaultMaxUploadBytes
	}

	setString(&c.Storage.Backend, BackendLocal)
	setString(&c.Storage.UploadsDir, defaultUploadsDir)
	setString(&c.Storage.StaticPrefix, defaultStaticPrefix)
	setString(&c.Storage.Folder, defaultFolder)

	if !strings.HasSuffix(c.Storage.StaticPrefix, "/") {
		c.Storage.StaticPrefix += "/"
	}

	setString(&c.NATS.ObjectStoreBucket, defaultBucket)
	setString(&c.NATS.TextToAudioSubject, defaultTextSubject)
	setString(&c.NATS.ArtifactCreatedSubject, defaultArtifactSubject)

	setString(&c.Transcoder.BinaryPath, defaultTranscoderBinary)

	setString(&c.TTS.Provider, ProviderGoogle)
	setString(&c.TTS.Language, defaultTTSLanguage)

	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = defaultTTSTimeoutSeconds
	}

	setString(&c.Device.ListenAddr, defaultDeviceListenAddr)
	setString(&c.Device.DeviceID, defaultDeviceID)

	if c.Device.GraceDelayMillis <= 0 {
		c.Device.GraceDelayMillis = defaultGraceDelayMillis
	}

	if c.Device.PollIntervalMillis <= 0 {
		c.Device.PollIntervalMillis = defaultPollIntervalMillis
	}

	if c.Device.ChunkBytes <= 0 {
		c.Device.ChunkBytes = defaultChunkBytes
	}

	setString(&c.MQTT.ClientID, defaultMQTTClientID)
	setString(&c.MQTT.CommandTopic, defaultCommandTopic)
	setString(&c.MQTT.StateTopic, defaultStateTopic)

	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
	setString(&c.Telemetry.ServiceName, defaultServiceName)
	setString(&c.Telemetry.MetricsPath, defaultMetricsPath)
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendNATS:
		if c.NATS.URL == "" {
			return ErrNATSURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	switch c.TTS.Provider {
	case ProviderGoogle:
	case ProviderHTTP:
		if c.TTS.ServiceURL == "" {
			return ErrTTSURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.TTS.Provider)
	}

	return nil
}

// TTSTimeout returns the synthesis request timeout.
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}

// GraceDelay returns the pause between stopping a stream and opening the next.
func (d DeviceConfig) GraceDelay() time.Duration {
	return time.Duration(d.GraceDelayMillis) * time.Millisecond
}

// PollInterval returns the decode pump interval.
func (d DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMillis) * time.Millisecond
}

// CommandTopicFor renders the command topic of a device.
func (m MQTTConfig) CommandTopicFor(deviceID string) string {
	return formatTopic(m.CommandTopic, deviceID)
}

// StateTopicFor renders the state topic of a device.
func (m MQTTConfig) StateTopicFor(deviceID string) string {
	return formatTopic(m.StateTopic, deviceID)
}

func formatTopic(pattern, deviceID string) string {
	if strings.Contains(pattern, "%s") {
		return fmt.Sprintf(pattern, deviceID)
	}

	return pattern
}

func setString(target *string, fallback string) {
	if strings.TrimSpace(*target) == "" {
		*target = fallback
	}
}
