package snapshot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
)

var (
	// ErrEmpty: the source held JSON null or nothing at all.
	ErrEmpty = errors.New("snapshot: empty payload")
	// ErrMalformed: the source held bytes that are not JSON.
	ErrMalformed = errors.New("snapshot: malformed payload")
)

// Snapshot is one full consolidated traffic state. It is immutable: the payload
// is the canonical JSON form of whatever the analytics process produced, so two
// snapshots are structurally equal exactly when their payloads are byte-equal.
//
// Version is zero for a candidate and assigned by the Store once the snapshot
// becomes current.
type Snapshot struct {
	payload []byte
	Version uint64
}

// Decode canonicalises raw into a candidate snapshot. Object keys are sorted and
// numbers are normalised, so formatting and key order never count as a change.
func Decode(raw []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Snapshot{}, ErrEmpty
	}

	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v == nil {
		return Snapshot{}, ErrEmpty
	}
	return FromValue(v)
}

// FromValue builds a candidate from an already decoded value.
func FromValue(v interface{}) (Snapshot, error) {
	if v == nil {
		return Snapshot{}, ErrEmpty
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Snapshot{payload: canon}, nil
}

// Payload returns the canonical JSON. Callers must not modify it.
func (s Snapshot) Payload() json.RawMessage { return s.payload }

// IsZero reports whether s holds no payload.
func (s Snapshot) IsZero() bool { return len(s.payload) == 0 }

// Equal is the structural equality used for change detection; versions are ignored.
func (s Snapshot) Equal(o Snapshot) bool { return bytes.Equal(s.payload, o.payload) }

// Size is the payload length in bytes.
func (s Snapshot) Size() int { return len(s.payload) }

// DecodeInto unmarshals the payload into out.
func (s Snapshot) DecodeInto(out interface{}) error {
	if s.IsZero() {
		return ErrEmpty
	}
	return json.Unmarshal(s.payload, out)
}
