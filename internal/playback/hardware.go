package playback

import (
	"fmt"
	"os"
	"sync"
)

const (
	gpioOn          = "1"
	gpioOff         = "0"
	sinkPermissions = 0o644
)

// GPIOAmplifier drives the amplifier-enable pin through a sysfs value file,
// e.g. /sys/class/gpio/gpio17/value.
type GPIOAmplifier struct {
	path string
}

// NewGPIOAmplifier creates an amplifier writing to path.
func NewGPIOAmplifier(path string) *GPIOAmplifier {
	return &GPIOAmplifier{path: path}
}

// SetEnabled writes 1 or 0 to the value file.
func (g *GPIOAmplifier) SetEnabled(enabled bool) error {
	value := gpioOff
	if enabled {
		value = gpioOn
	}

	// #nosec G306 -- sysfs gpio value files are world readable
	err := os.WriteFile(g.path, []byte(value), sinkPermissions)
	if err != nil {
		return fmt.Errorf("failed to write gpio value %s: %w", g.path, err)
	}

	return nil
}

// NopAmplifier is used on hosts without an amplifier line.
type NopAmplifier struct{}

// SetEnabled does nothing.
func (NopAmplifier) SetEnabled(bool) error {
	return nil
}

// FileSink writes PCM to a file or named pipe read by the audio output
// driver. The file is opened on first write and kept open.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink creates a sink for path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Write appends p to the sink file.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		// #nosec G304 -- path comes from configuration
		file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, sinkPermissions)
		if err != nil {
			return 0, fmt.Errorf("failed to open pcm sink %s: %w", s.path, err)
		}

		s.file = file
	}

	return s.file.Write(p)
}

// Close closes the sink file if open.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	return err
}
