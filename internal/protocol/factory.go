package protocol

import "sync/atomic"

// Factory builds outbound envelopes. Alive messages carry a sequence number
// that increases by one per message built.
type Factory struct {
	seq atomic.Int64
}

func NewFactory() *Factory {
	return &Factory{}
}

// NextSequence reserves and returns the next sequence number.
func (f *Factory) NextSequence() int64 {
	return f.seq.Add(1)
}

func (f *Factory) Alive() Alive {
	return Alive{Type: TypeAlive, Sequence: f.NextSequence()}
}

func (f *Factory) Join(language, version, orgID, password, filter string) Join {
	return Join{
		Type:     TypeJoin,
		Language: language,
		Version:  version,
		OrgID:    orgID,
		Password: password,
		Filter:   filter,
	}
}

func (f *Factory) RequestControllersList() RequestControllersList {
	return RequestControllersList{Type: TypeRequestControllersList}
}
