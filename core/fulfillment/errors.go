package fulfillment

import "errors"

// ErrNotEntitled covers every denial: unknown target, unpublished release
// reached anonymously, missing purchase, token mismatch or already-consumed
// token. Callers surface all of these identically so responses leak nothing
// about which condition failed.
var ErrNotEntitled = errors.New("not entitled")

// ErrArtifactUnavailable signals that a directly-served artifact (a track's
// generated master) is absent upstream.
var ErrArtifactUnavailable = errors.New("artifact unavailable")
