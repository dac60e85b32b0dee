// Package ingest implements the command pipeline shared by every
// front-channel: decode, validate/canonicalize, rate-limit, dedupe, route to
// the fade or immediate path, then fan the resulting delta out.
package ingest

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command kinds.
const (
	TypeSet        = "dmx.set"
	TypePatch      = "dmx.patch"
	TypeFade       = "dmx.fade"
	TypeFixtureSet = "fixture.set"
)

// MaxPatchItems bounds a canonicalized patch.
const MaxPatchItems = 64

// ErrorKind is the ack-level error taxonomy.
type ErrorKind string

const (
	ReasonValidationFailed ErrorKind = "VALIDATION_FAILED"
	ReasonPatchTooLarge    ErrorKind = "PATCH_TOO_LARGE"
	ReasonRateLimited      ErrorKind = "RATE_LIMITED"
	ReasonNotFound         ErrorKind = "not_found"
	ReasonUnavailable      ErrorKind = "UNAVAILABLE"
)

// FieldError locates one validation failure.
type FieldError struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

// Ack answers one command.
type Ack struct {
	Ack      string       `json:"ack"`
	Accepted bool         `json:"accepted"`
	Reason   ErrorKind    `json:"reason,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	TS       int64        `json:"ts"`
}

// AttrValue is a fixture attribute level: a bare number (8-bit) or
// {"value16": n}.
type AttrValue struct {
	Value int
	Is16  bool
}

// UnmarshalJSON accepts both encodings.
func (a *AttrValue) UnmarshalJSON(data []byte) error {
	var v8 int
	if err := json.Unmarshal(data, &v8); err == nil {
		a.Value = v8
		a.Is16 = false
		return nil
	}
	var wide struct {
		Value16 *int `json:"value16"`
	}
	if err := json.Unmarshal(data, &wide); err != nil {
		return errors.Wrap(err, "invalid attribute value")
	}
	if wide.Value16 == nil {
		return errors.New("attribute object requires value16")
	}
	a.Value = *wide.Value16
	a.Is16 = true
	return nil
}

// Command is the tagged variant carried by every front-channel.
type Command struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	TS   int64  `json:"ts,omitempty"`
	Src  string `json:"src,omitempty"`

	Universe int          `json:"universe"`
	Channel  int          `json:"channel,omitempty"`
	Value    int          `json:"value,omitempty"`
	Items    []dmx.Change `json:"items,omitempty"`

	DurationMS int64  `json:"durationMs,omitempty"`
	Easing     string `json:"easing,omitempty"`

	FixtureID string               `json:"fixtureId,omitempty"`
	Attrs     map[string]AttrValue `json:"attrs,omitempty"`
}

// DecodeCommand parses one raw payload.
func DecodeCommand(raw []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command payload")
	}
	return &cmd, nil
}
