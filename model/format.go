package model

import "fmt"

// AudioFormat identifies one of the downloadable audio formats. The set is
// closed: every format names its own pre-generated master object in storage.
// The mp3 bitrates are distinct formats with distinct masters; only their
// display extension is shared. No transcoding happens at download time.
type AudioFormat string

const (
	FormatFLAC   AudioFormat = "flac"
	FormatWAV    AudioFormat = "wav"
	FormatOPUS   AudioFormat = "opus"
	FormatMP3320 AudioFormat = "mp3_320"
	FormatMP3256 AudioFormat = "mp3_256"
	FormatMP3128 AudioFormat = "mp3_128"
)

// DefaultFormat is used when a download request names no format.
const DefaultFormat = FormatFLAC

var formatExtensions = map[AudioFormat]string{
	FormatFLAC:   "flac",
	FormatWAV:    "wav",
	FormatOPUS:   "opus",
	FormatMP3320: "mp3",
	FormatMP3256: "mp3",
	FormatMP3128: "mp3",
}

// ParseFormat validates a requested format string. An empty string resolves
// to DefaultFormat; anything outside the closed set is rejected.
func ParseFormat(s string) (AudioFormat, error) {
	if s == "" {
		return DefaultFormat, nil
	}
	f := AudioFormat(s)
	if _, ok := formatExtensions[f]; !ok {
		return "", fmt.Errorf("unsupported audio format: %q", s)
	}
	return f, nil
}

// Extension returns the display file extension for this format, used for
// archive entries and download filenames. Distinct mp3 bitrates collapse to
// ".mp3" here; storage keys never use Extension.
func (f AudioFormat) Extension() string {
	return formatExtensions[f]
}

// String implements fmt.Stringer.
func (f AudioFormat) String() string {
	return string(f)
}
