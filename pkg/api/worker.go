package api

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// The worker websocket endpoint speaks a small framed protocol: the
// participant spec travels base64-encoded in the payload query parameter of
// the upgrade request, inbound text frames are Commands, and outbound text
// frames are WorkerResponses carrying a state snapshot, a log line or a
// command error. Closing the socket closes the participant.

// WorkerResponse is one outbound frame on a worker connection. Exactly one
// field is set.
type WorkerResponse struct {
	State *ParticipantState `json:"state,omitempty"`
	Log   *WorkerLog        `json:"log,omitempty"`
	Error string            `json:"error,omitempty"`
}

// WorkerLog is a participant log line pushed over a worker connection.
type WorkerLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// EncodeSpecPayload packs a participant spec into the payload query
// parameter format.
func EncodeSpecPayload(spec ParticipantSpec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeSpecPayload unpacks the payload query parameter of a worker
// connection request.
func DecodeSpecPayload(payload string) (ParticipantSpec, error) {
	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		// Some clients send standard base64; accept that too.
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return ParticipantSpec{}, errors.Wrap(err, "payload is not valid base64")
		}
	}
	var spec ParticipantSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return ParticipantSpec{}, errors.Wrap(err, "payload is not a valid participant spec")
	}
	return spec, nil
}
