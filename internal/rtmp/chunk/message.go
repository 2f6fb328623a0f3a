package chunk

// Message is one assembled chunk payload plus the header fields it arrived
// with. Payload is owned by the caller.
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}
