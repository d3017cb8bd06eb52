package protocol

import (
	"encoding/json"
	"time"

	"github.com/execution-hub/moldwatch/internal/domain/controller"
)

// MessageType is the "$type" discriminator of every envelope.
type MessageType string

const (
	TypeAlive                  MessageType = "Alive"
	TypeJoin                   MessageType = "Join"
	TypeJoinResponse           MessageType = "JoinResponse"
	TypeRequestControllersList MessageType = "RequestControllersList"
	TypeControllersList        MessageType = "ControllersList"
	TypeControllerStatus       MessageType = "ControllerStatus"
	TypeControllerAction       MessageType = "ControllerAction"
	TypeCycleData              MessageType = "CycleData"
)

// Join result codes below this value are denials.
const JoinAccepted = 100

// JoinDeniedDuplicateOrigin is returned when another terminal is already
// connected from the same address.
const JoinDeniedDuplicateOrigin = 99

// Outbound envelopes.

type Alive struct {
	Type     MessageType `json:"$type"`
	Sequence int64       `json:"sequence"`
}

type Join struct {
	Type     MessageType `json:"$type"`
	Language string      `json:"language"`
	Version  string      `json:"version"`
	OrgID    string      `json:"orgId"`
	Password string      `json:"password"`
	Filter   string      `json:"filter"`
}

type RequestControllersList struct {
	Type MessageType `json:"$type"`
}

// Inbound is one decoded server message.
type Inbound interface {
	MessageType() MessageType
}

type AliveMessage struct{}

type JoinResponse struct {
	Result  int     `json:"result"`
	Level   int     `json:"level"`
	Message *string `json:"message,omitempty"`
}

type ControllersList struct {
	Data map[int]controller.Info `json:"data"`
}

// AlarmEvent is an alarm raised or cleared on a controller.
type AlarmEvent struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// ControllerStatus is a partial update: only present keys are applied.
type ControllerStatus struct {
	ControllerID   int                         `json:"controllerId"`
	Controller     *controller.Info            `json:"controller,omitempty"`
	DisplayName    *string                     `json:"displayName,omitempty"`
	OpMode         *string                     `json:"opMode,omitempty"`
	JobMode        *string                     `json:"jobMode,omitempty"`
	JobCardID      controller.Optional[string] `json:"jobCardId,omitzero"`
	OperatorID     controller.Optional[int]    `json:"operatorId,omitzero"`
	MoldID         controller.Optional[string] `json:"moldId,omitzero"`
	Alarm          *AlarmEvent                 `json:"alarm,omitempty"`
	IsDisconnected bool                        `json:"isDisconnected,omitempty"`
	Timestamp      time.Time                   `json:"timestamp"`
}

type ControllerAction struct {
	ControllerID int       `json:"controllerId"`
	ActionID     int       `json:"actionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type CycleData struct {
	ControllerID int             `json:"controllerId"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (AliveMessage) MessageType() MessageType     { return TypeAlive }
func (JoinResponse) MessageType() MessageType     { return TypeJoinResponse }
func (ControllersList) MessageType() MessageType  { return TypeControllersList }
func (ControllerStatus) MessageType() MessageType { return TypeControllerStatus }
func (ControllerAction) MessageType() MessageType { return TypeControllerAction }
func (CycleData) MessageType() MessageType        { return TypeCycleData }

// Denied reports whether the server refused the login.
func (r JoinResponse) Denied() bool {
	return r.Result < JoinAccepted
}
