package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatAcceptsClosedSet(t *testing.T) {
	for _, s := range []string{"flac", "wav", "opus", "mp3_320", "mp3_256", "mp3_128"} {
		f, err := ParseFormat(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, f.String())
	}
}

func TestParseFormatDefaultsWhenEmpty(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFormat, f)
}

func TestParseFormatRejectsUnknown(t *testing.T) {
	for _, s := range []string{"ogg", "mp3", "FLAC", "mp3_64", "aiff"} {
		_, err := ParseFormat(s)
		assert.Error(t, err, s)
	}
}

func TestExtensionCollapsesMP3Bitrates(t *testing.T) {
	assert.Equal(t, "mp3", FormatMP3320.Extension())
	assert.Equal(t, "mp3", FormatMP3256.Extension())
	assert.Equal(t, "mp3", FormatMP3128.Extension())
	assert.Equal(t, "flac", FormatFLAC.Extension())
}
