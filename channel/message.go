package channel

import "encoding/json"

// MessageKind is the low 16 bits of a request id: the driver-chosen
// operation kind from spec.md §6. Responses set the high bit of the
// kind, matching the "open-response = open | 0x8000" convention the
// spec gives as an example.
type MessageKind uint16

const (
	KindOpen          MessageKind = 0x01
	KindRead          MessageKind = 0x02
	KindWrite         MessageKind = 0x03
	KindClose         MessageKind = 0x04
	KindStat          MessageKind = 0x05
	KindCancel        MessageKind = 0x06
	KindShFile        MessageKind = 0x07
	KindCreateSibling MessageKind = 0x08

	responseBit MessageKind = 0x8000
)

// Response returns the response counterpart of a request kind.
func (k MessageKind) Response() MessageKind { return k | responseBit }

// IsResponse reports whether k carries the response bit.
func (k MessageKind) IsResponse() bool { return k&responseBit != 0 }

func (k MessageKind) String() string {
	base := k &^ responseBit
	names := map[MessageKind]string{
		KindOpen: "open", KindRead: "read", KindWrite: "write",
		KindClose: "close", KindStat: "stat", KindCancel: "cancel",
		KindShFile: "shfile", KindCreateSibling: "creatsibl",
	}
	name, ok := names[base]
	if !ok {
		name = "unknown"
	}
	if k.IsResponse() {
		return name + "-response"
	}
	return name
}

// Message is the envelope from spec.md §3/§6: a 32-bit request id (high
// 16 = nonce, low 16 = kind) plus an opaque payload.
type Message struct {
	RequestID uint32
	Payload   []byte
}

// Nonce and Kind split the bit-packed RequestID per spec.md §6.
func (m Message) Nonce() uint16      { return uint16(m.RequestID >> 16) }
func (m Message) Kind() MessageKind  { return MessageKind(uint16(m.RequestID)) }
func (m Message) IsBroadcast() bool  { return m.Nonce() == 0 }
func buildID(nonce uint16, kind MessageKind) uint32 {
	return uint32(nonce)<<16 | uint32(kind)
}

// Encode/Decode wrap encoding/json for the small request/response
// structs in protocol.go. The wire layout of the payload is otherwise
// unspecified by spec.md; JSON keeps the codec trivial to read in
// debug logs and in the vfsctl CLI.
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // all protocol.go types are JSON-safe by construction
	}
	return b
}

func decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// Encode and Decode are the driver-side counterparts of encode/decode:
// a device.Device's driver loop lives outside this package (it has no
// Channel of its own to call the typed Open/Read/Write helpers on) but
// still needs to marshal the same protocol.go structs GetWork hands it
// and Reply sends back.
func Encode(v any) []byte          { return encode(v) }
func Decode(b []byte, v any) error { return decode(b, v) }
