package audiofile_test

import (
	"testing"

	"github.com/book-expert/speaker-service/internal/audiofile"
	"github.com/stretchr/testify/assert"
)

func TestIsPlayable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{name: "mp3", filename: "song.mp3", want: true},
		{name: "upper case wav", filename: "SONG.WAV", want: true},
		{name: "text", filename: "notes.txt", want: false},
		{name: "no extension", filename: "README", want: false},
		{name: "hidden partial", filename: ".song.mp3.partial", want: false},
		{name: "hidden mp3", filename: ".tmp-song.mp3", want: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.want, audiofile.IsPlayable(testCase.filename))
		})
	}
}

func TestSanitizeBaseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "My Song.wav", want: "My_Song"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\music\track 1.mp3`, want: "track_1"},
		{in: "???.mp3", want: "audio"},
		{in: "", want: "audio"},
		{in: "voice-note_2.ogg", want: "voice-note_2"},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.want, audiofile.SanitizeBaseName(testCase.in), testCase.in)
	}
}

func TestValidID(t *testing.T) {
	t.Parallel()

	assert.True(t, audiofile.ValidID("track-1.mp3"))
	assert.False(t, audiofile.ValidID("../track.mp3"))
	assert.False(t, audiofile.ValidID("a/b.mp3"))
	assert.False(t, audiofile.ValidID(".hidden.mp3"))
	assert.False(t, audiofile.ValidID(""))
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".wav", audiofile.Extension("clip.WAV", ".bin"))
	assert.Equal(t, ".bin", audiofile.Extension("clip", ".bin"))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", audiofile.FormatFileSize(512))
	assert.Equal(t, "1.5 KB", audiofile.FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", audiofile.FormatFileSize(2*1024*1024))
	assert.Equal(t, "1.0 GB", audiofile.FormatFileSize(1024*1024*1024))
}
