package controller

import (
	"cmp"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	OpModeOffline  = "Offline"
	JobModeOffline = "Offline"
)

var ErrControllerNotFound = errors.New("controller not found")

// Info is the full controller object sent by the server in a controllers list
// or embedded in a status update. Absent keys are left untouched on merge.
type Info struct {
	ControllerID   int              `json:"controllerId"`
	DisplayName    *string          `json:"displayName,omitempty"`
	ControllerType *string          `json:"controllerType,omitempty"`
	Version        *string          `json:"version,omitempty"`
	Model          *string          `json:"model,omitempty"`
	IP             *string          `json:"IP,omitempty"`
	OpMode         *string          `json:"opMode,omitempty"`
	JobMode        *string          `json:"jobMode,omitempty"`
	OperatorID     Optional[int]    `json:"operatorId,omitzero"`
	OperatorName   Optional[string] `json:"operatorName,omitzero"`
	MoldID         Optional[string] `json:"moldId,omitzero"`
	JobCardID      Optional[string] `json:"jobCardId,omitzero"`
	LastCycleData  json.RawMessage  `json:"lastCycleData,omitempty"`
}

// Alarm is one entry of the active alarms stack.
type Alarm struct {
	Key       string    `json:"key"`
	Value     bool      `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the reconciled view of one controller.
type State struct {
	ControllerID   int     `json:"controllerId"`
	DisplayName    string  `json:"displayName"`
	ControllerType string  `json:"controllerType,omitempty"`
	Version        string  `json:"version,omitempty"`
	Model          string  `json:"model,omitempty"`
	IP             string  `json:"ip,omitempty"`
	OpMode         string  `json:"opMode,omitempty"`
	JobMode        string  `json:"jobMode,omitempty"`
	OperatorID     int     `json:"operatorId"`
	OperatorName   *string `json:"operatorName,omitempty"`
	MoldID         *string `json:"moldId"`
	JobCardID      *string `json:"jobCardId"`
	ActionID       *int    `json:"actionId"`

	// LastMessageTime is the local clock; every other timestamp is the server's.
	LastMessageTime         time.Time `json:"lastMessageTime,omitzero"`
	LastMessageTimeStamp    time.Time `json:"lastMessageTimeStamp,omitzero"`
	LastOpModeChangedTime   time.Time `json:"lastOpModeChangedTime,omitzero"`
	LastJobModeChangedTime  time.Time `json:"lastJobModeChangedTime,omitzero"`
	LastJobCardChangedTime  time.Time `json:"lastJobCardChangedTime,omitzero"`
	LastOperatorChangedTime time.Time `json:"lastOperatorChangedTime,omitzero"`
	LastMoldChangedTime     time.Time `json:"lastMoldChangedTime,omitzero"`
	LastActionTime          time.Time `json:"lastActionTime,omitzero"`
	LastCycleDataTime       time.Time `json:"lastCycleDataTime,omitzero"`

	LastCycleData json.RawMessage `json:"lastCycleData,omitempty"`
	Alarms        map[string]bool `json:"alarms,omitempty"`
	ActiveAlarms  []Alarm         `json:"activeAlarms,omitempty"`
	Alarm         *Alarm          `json:"alarm"`
}

// NewState creates an empty state for a newly sighted controller.
func NewState(id int) State {
	return State{ControllerID: id}
}

// Merge copies every key present in info onto the state.
func (s *State) Merge(info Info) {
	if info.DisplayName != nil {
		s.DisplayName = *info.DisplayName
	}
	if info.ControllerType != nil {
		s.ControllerType = *info.ControllerType
	}
	if info.Version != nil {
		s.Version = *info.Version
	}
	if info.Model != nil {
		s.Model = *info.Model
	}
	if info.IP != nil {
		s.IP = *info.IP
	}
	if info.OpMode != nil {
		s.OpMode = *info.OpMode
	}
	if info.JobMode != nil {
		s.JobMode = *info.JobMode
	}
	if info.OperatorID.Set {
		s.OperatorID = 0
		if info.OperatorID.Value != nil {
			s.OperatorID = *info.OperatorID.Value
		}
	}
	if info.OperatorName.Set {
		s.OperatorName = cloneString(info.OperatorName.Value)
	}
	if info.MoldID.Set {
		s.MoldID = normalizeID(info.MoldID.Value)
	}
	if info.JobCardID.Set {
		s.JobCardID = normalizeID(info.JobCardID.Value)
	}
	if len(info.LastCycleData) > 0 {
		s.LastCycleData = slices.Clone(info.LastCycleData)
	}
}

// IsStale reports whether an update stamped ts must be discarded because it
// does not advance LastMessageTimeStamp.
func (s State) IsStale(ts time.Time) bool {
	return !s.LastMessageTimeStamp.IsZero() && !ts.After(s.LastMessageTimeStamp)
}

// AdvanceTimeStamp moves LastMessageTimeStamp forward, never backward.
func (s *State) AdvanceTimeStamp(ts time.Time) {
	if ts.After(s.LastMessageTimeStamp) {
		s.LastMessageTimeStamp = ts
	}
}

// MarkDisconnected resets the state of a controller that dropped off the server.
func (s *State) MarkDisconnected() {
	s.JobMode = JobModeOffline
	s.OpMode = OpModeOffline
	s.OperatorID = 0
	s.MoldID = nil
	s.JobCardID = nil
}

// ApplyAlarm folds one alarm event into the flat map and the active stack.
// The most recently raised alarm that is still active is displayed.
func (s *State) ApplyAlarm(key string, active bool, ts time.Time) {
	if s.Alarms == nil {
		s.Alarms = make(map[string]bool)
	}
	s.Alarms[key] = active

	stack := slices.DeleteFunc(slices.Clone(s.ActiveAlarms), func(a Alarm) bool {
		return a.Key == key
	})

	if active {
		alarm := Alarm{Key: key, Value: true, Timestamp: ts}
		stack = slices.Insert(stack, 0, alarm)
		s.ActiveAlarms = stack
		s.Alarm = &alarm
		return
	}

	s.ActiveAlarms = stack
	if len(stack) == 0 {
		s.Alarm = nil
		return
	}
	head := stack[0]
	s.Alarm = &head
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.OperatorName = cloneString(s.OperatorName)
	out.MoldID = cloneString(s.MoldID)
	out.JobCardID = cloneString(s.JobCardID)
	if s.ActionID != nil {
		v := *s.ActionID
		out.ActionID = &v
	}
	if s.LastCycleData != nil {
		out.LastCycleData = slices.Clone(s.LastCycleData)
	}
	if s.Alarms != nil {
		out.Alarms = maps.Clone(s.Alarms)
	}
	if s.ActiveAlarms != nil {
		out.ActiveAlarms = slices.Clone(s.ActiveAlarms)
	}
	if s.Alarm != nil {
		a := *s.Alarm
		out.Alarm = &a
	}
	return out
}

// Compare orders states by display name, then id.
func Compare(a, b State) int {
	if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
		return c
	}
	return cmp.Compare(a.ControllerID, b.ControllerID)
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// normalizeID maps null and empty identifiers to nil.
func normalizeID(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}
