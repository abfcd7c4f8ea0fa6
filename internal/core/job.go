package core

import (
	"errors"
	"fmt"
	"strconv"
)

// Limits used when validating a conversion profile.
const (
	maxSampleRate      = 192000
	maxChannels        = 8
	maxFilterFrequency = 20000
)

// ErrInvalidProfile indicates a conversion profile outside supported bounds.
var ErrInvalidProfile = errors.New("invalid conversion profile")

// Profile is the target format of a transcode.
type Profile struct {
	Codec      string
	Format     string
	Extension  string
	BitrateK   int
	SampleRate int
	Channels   int
	HighPassHz int
	Normalize  bool
}

// SpeakerProfile is the only profile artifacts are produced in. Keeping every
// artifact identical keeps playback on the device hardware consistent.
var SpeakerProfile = Profile{
	Codec:      "libmp3lame",
	Format:     "mp3",
	Extension:  ".mp3",
	BitrateK:   96,
	SampleRate: 44100,
	Channels:   1,
	HighPassHz: 200,
	Normalize:  true,
}

// FilterChain renders the audio filter graph: highpass first, then dynamic normalization.
func (p Profile) FilterChain() string {
	chain := ""
	if p.HighPassHz > 0 {
		chain = "highpass=f=" + strconv.Itoa(p.HighPassHz)
	}

	if p.Normalize {
		if chain != "" {
			chain += ","
		}

		chain += "dynaudnorm"
	}

	return chain
}

// Validate checks the profile is within reasonable bounds.
func (p Profile) Validate() error {
	if p.SampleRate <= 0 || p.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidProfile, maxSampleRate)
	}

	if p.Channels <= 0 || p.Channels > maxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidProfile, maxChannels)
	}

	if p.BitrateK <= 0 {
		return fmt.Errorf("%w: bitrate must be positive", ErrInvalidProfile)
	}

	if p.HighPassHz < 0 || p.HighPassHz > maxFilterFrequency {
		return fmt.Errorf("%w: high pass filter must be between 0 and %d Hz", ErrInvalidProfile, maxFilterFrequency)
	}

	if p.Format == "" || p.Extension == "" {
		return fmt.Errorf("%w: format and extension are required", ErrInvalidProfile)
	}

	return nil
}

// TranscodeJob is a single conversion request. It is never persisted.
type TranscodeJob struct {
	InputPath  string
	OutputPath string
	Profile    Profile
}

// TranscodeResult is the terminal event of a job. Err is nil on success.
type TranscodeResult struct {
	OutputPath string
	Err        error
}
