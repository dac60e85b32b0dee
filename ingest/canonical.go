package ingest

import (
	"fmt"

	"github.com/atrep123/dmx-core/dmx"
)

// Rejection carries the reason and field errors of a failed validation.
type Rejection struct {
	Reason ErrorKind
	Errors []FieldError
}

func reject(reason ErrorKind, errs ...FieldError) *Rejection {
	return &Rejection{Reason: reason, Errors: errs}
}

// Canonicalize validates a dmx.set/dmx.patch/dmx.fade command and produces
// the stable ordered item list: duplicate channels collapse last-writer-wins
// onto the first occurrence, bounds are enforced, and patches larger than
// MaxPatchItems after canonicalization are rejected.
func Canonicalize(cmd *Command) ([]dmx.Change, *Rejection) {
	if cmd.Universe < 0 || cmd.Universe > 63636 {
		return nil, reject(ReasonValidationFailed, FieldError{Path: "universe", Msg: "universe out of range"})
	}

	var items []dmx.Change
	switch cmd.Type {
	case TypeSet:
		items = []dmx.Change{{Ch: cmd.Channel, Val: cmd.Value}}
	case TypePatch, TypeFade:
		items = cmd.Items
	default:
		return nil, reject(ReasonValidationFailed, FieldError{Path: "type", Msg: "unknown command type"})
	}

	if cmd.Type == TypeFade {
		if cmd.DurationMS < 0 {
			return nil, reject(ReasonValidationFailed, FieldError{Path: "durationMs", Msg: "duration must be >= 0"})
		}
		if cmd.Easing != "" && !dmx.ValidEasing(cmd.Easing) {
			return nil, reject(ReasonValidationFailed, FieldError{Path: "easing", Msg: "unknown easing"})
		}
	}

	var fieldErrs []FieldError
	latest := make(map[int]int, len(items))
	var order []int
	for i, it := range items {
		if it.Ch < 1 || it.Ch > dmx.FrameSize {
			fieldErrs = append(fieldErrs, FieldError{
				Path: fmt.Sprintf("items[%d].ch", i),
				Msg:  "channel must be in [1,512]",
			})
			continue
		}
		if it.Val < 0 || it.Val > 255 {
			fieldErrs = append(fieldErrs, FieldError{
				Path: fmt.Sprintf("items[%d].val", i),
				Msg:  "value must be in [0,255]",
			})
			continue
		}
		if _, seen := latest[it.Ch]; !seen {
			order = append(order, it.Ch)
		}
		latest[it.Ch] = it.Val
	}
	if len(fieldErrs) > 0 {
		return nil, reject(ReasonValidationFailed, fieldErrs...)
	}
	if len(latest) == 0 {
		return nil, reject(ReasonValidationFailed, FieldError{Path: "items", Msg: "empty patch"})
	}
	if len(latest) > MaxPatchItems {
		return nil, reject(ReasonPatchTooLarge)
	}

	out := make([]dmx.Change, 0, len(order))
	for _, ch := range order {
		out = append(out, dmx.Change{Ch: ch, Val: latest[ch]})
	}
	return out, nil
}
