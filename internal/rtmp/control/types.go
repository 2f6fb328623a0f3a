// Package control handles RTMP protocol control messages (type ids 1-6).
// Only Set Chunk Size changes relay state; the rest are recognised so they
// can be consumed without being relayed to consumers.
package control

const (
	TypeSetChunkSize          uint8 = 1
	TypeAbortMessage          uint8 = 2
	TypeAcknowledgement       uint8 = 3
	TypeUserControl           uint8 = 4
	TypeWindowAcknowledgement uint8 = 5
	TypeSetPeerBandwidth      uint8 = 6
)

// IsProtocolControl reports whether typeID is a protocol control message.
func IsProtocolControl(typeID uint8) bool {
	return typeID >= TypeSetChunkSize && typeID <= TypeSetPeerBandwidth
}
