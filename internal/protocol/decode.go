package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingType = errors.New("message has no $type")
	ErrUnknownType = errors.New("unknown message type")
)

type envelopeHeader struct {
	Type MessageType `json:"$type"`
}

// Decode parses one JSON document into its typed inbound message.
func Decode(raw []byte) (Inbound, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch hdr.Type {
	case "":
		return nil, ErrMissingType
	case TypeAlive:
		return AliveMessage{}, nil
	case TypeJoinResponse:
		return decodePayload[JoinResponse](raw)
	case TypeControllersList:
		return decodePayload[ControllersList](raw)
	case TypeControllerStatus:
		return decodePayload[ControllerStatus](raw)
	case TypeControllerAction:
		return decodePayload[ControllerAction](raw)
	case TypeCycleData:
		return decodePayload[CycleData](raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, hdr.Type)
	}
}

func decodePayload[T Inbound](raw []byte) (Inbound, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", out.MessageType(), err)
	}
	return out, nil
}

// SplitDocuments returns the non-blank lines of a text frame. A frame may
// carry one JSON document or several separated by newlines.
func SplitDocuments(frame []byte) [][]byte {
	var docs [][]byte
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		docs = append(docs, line)
	}
	return docs
}
