package session

import (
	"github.com/execution-hub/moldwatch/internal/domain/connection"
	"github.com/execution-hub/moldwatch/internal/protocol"
)

// Status is the coarse server indicator shown to users.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
	StatusDenied     Status = "denied"
)

// StatusFromConnection maps a transport state to its display status.
func StatusFromConnection(state connection.State) Status {
	switch state {
	case connection.StateOnline:
		return StatusOnline
	case connection.StateConnecting:
		return StatusConnecting
	case connection.StateError:
		return StatusError
	default:
		return StatusOffline
	}
}

// Phase tracks login progress on the current connection.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseJoining
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseActive:
		return "active"
	default:
		return "uninitialized"
	}
}

// Denial describes a refused Join.
type Denial struct {
	Code            int    `json:"code"`
	Level           int    `json:"level"`
	Message         string `json:"message,omitempty"`
	DuplicateOrigin bool   `json:"duplicateOrigin"`
}

// Reason is a user-facing explanation of the denial.
func (d Denial) Reason() string {
	if d.DuplicateOrigin {
		return "another terminal is already connected from this computer"
	}
	return "connection to the server was denied"
}

func denialFrom(resp protocol.JoinResponse) Denial {
	d := Denial{
		Code:            resp.Result,
		Level:           resp.Level,
		DuplicateOrigin: resp.Result == protocol.JoinDeniedDuplicateOrigin,
	}
	if resp.Message != nil {
		d.Message = *resp.Message
	}
	return d
}

// Observer is notified of status changes and login denials.
type Observer interface {
	StatusChanged(status Status)
	Denied(denial Denial)
}

// CredentialSource supplies the password sent with each Join.
type CredentialSource interface {
	Password() string
}

// Recorder receives session metrics.
type Recorder interface {
	MessageReceived(messageType string)
	MessageDropped(messageType, reason string)
	ControllersTracked(n int)
	JoinDenied()
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status) {}
func (nopObserver) Denied(Denial)        {}

type nopRecorder struct{}

func (nopRecorder) MessageReceived(string)        {}
func (nopRecorder) MessageDropped(string, string) {}
func (nopRecorder) ControllersTracked(int)        {}
func (nopRecorder) JoinDenied()                   {}
