// Package envelope implements the Subdevice Envelope Codec (spec
// §4.8/§6's "external codec"): wrapping a local message with a
// subdevice address and unwrapping a platform envelope back into the
// per-subdevice messages it carries. The spec treats this as
// pluggable, but the core needs a concrete implementation to be
// independently testable, so this package gives it one. The channel a
// wrapped message travels on is whatever the caller already built (a
// Protocol mints channels; this package only reshapes payloads), so it
// carries no opinion about gateway keys or topic structure itself.
// Grounded on the teacher's messenger.Msg topic-path parsing
// (Path/Station/Last helpers over "/"-segmented channels) generalized
// from a single fixed path shape to an arbitrary inner channel carried
// inside a JSON envelope body.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/gwbridge/model"
)

// entry is the wire shape of one subdevice message inside an envelope
// payload.
type entry struct {
	DeviceKey string `json:"deviceKey"`
	Channel   string `json:"channel"`
	Payload   []byte `json:"payload"`
}

// Wrap addresses msg to deviceKey and reshapes it into a one-entry
// envelope on the same channel. Unwrap of the result yields a
// single-element list containing msg (spec §8's envelope round-trip
// property).
func Wrap(deviceKey string, msg *model.Message) (*model.Message, error) {
	if deviceKey == "" {
		return nil, fmt.Errorf("envelope: wrap requires a non-empty device key")
	}
	body, err := json.Marshal([]entry{{DeviceKey: deviceKey, Channel: msg.Channel, Payload: msg.Payload}})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}
	return model.NewMessage(msg.Channel, body), nil
}

// WrapBatch places several subdevice messages, each addressed to its
// own device key, into a single envelope on channel. Used when a
// platform (or an external data provider) fans one operation out
// across many subdevices in one publish.
func WrapBatch(channel string, msgs []model.GatewaySubdeviceMessage) (*model.Message, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("envelope: wrap batch requires at least one message")
	}
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		if m.DeviceKey == "" {
			return nil, fmt.Errorf("envelope: wrap batch requires every entry to carry a device key")
		}
		entries = append(entries, entry{DeviceKey: m.DeviceKey, Channel: m.Message.Channel, Payload: m.Message.Payload})
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal batch: %w", err)
	}
	return model.NewMessage(channel, body), nil
}

// Unwrap parses an envelope payload back into the per-subdevice
// messages it carries. Returns nil (an empty list, not an error) for a
// payload that is not a valid envelope, matching the router's "unwrap
// returns empty, drop" failure path (spec §4.6).
func Unwrap(msg *model.Message) []model.GatewaySubdeviceMessage {
	var entries []entry
	if err := json.Unmarshal(msg.Payload, &entries); err != nil {
		return nil
	}
	out := make([]model.GatewaySubdeviceMessage, 0, len(entries))
	for _, e := range entries {
		if e.DeviceKey == "" {
			continue
		}
		out = append(out, model.GatewaySubdeviceMessage{
			DeviceKey: e.DeviceKey,
			Message:   *model.NewMessage(e.Channel, e.Payload),
		})
	}
	return out
}
