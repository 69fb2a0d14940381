package archive

import (
	"fmt"

	"mirlo/model"
)

// GeneratedKey is the object key of a track's pre-generated master in the
// audio bucket. The format variant is produced by an upstream transcoding
// step at upload time; download fulfillment only reads it. The key suffix
// is the format name itself, so the three mp3 bitrates reference three
// distinct stored objects even though they share a display extension.
func GeneratedKey(storageKey string, format model.AudioFormat) string {
	return fmt.Sprintf("%s/generated.%s", storageKey, format)
}

// ArtifactKey is the deterministic object key of a built release archive in
// the downloads bucket. Determinism is what lets concurrent requests for the
// same (target, format) converge on one artifact.
func ArtifactKey(targetID int64, format model.AudioFormat) string {
	return fmt.Sprintf("%d/%s.zip", targetID, format)
}
