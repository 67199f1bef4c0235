package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event flowing through the engine.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventBar
	EventOrder
	EventTrade
	EventPositionDelta
	EventDailyClose
	EventSignalSnapshot
)

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}

// Key identifies one aggregate chain. All mutation for a key happens on a
// single writer.
type Key struct {
	StrategyID string
	Symbol     string
}

func (k Key) String() string {
	return k.StrategyID + "/" + k.Symbol
}
