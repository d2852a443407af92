// Package protocol defines wire messages for agent-to-agent bulk transfer.
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolID is the libp2p protocol identifier.
const ProtocolID = "/neurogrid/xferbench/1.0.0"

// MessageType defines transfer protocol message types.
type MessageType uint8

const (
	MsgHello    MessageType = 1 // Agent metadata and region table request
	MsgHelloAck MessageType = 2 // Hello response
	MsgRead     MessageType = 3 // Pull bytes out of a remote region
	MsgReadAck  MessageType = 4 // Read response with data
	MsgWrite    MessageType = 5 // Push bytes into a remote region
	MsgWriteAck MessageType = 6 // Write confirmation
	MsgNotify   MessageType = 7 // Best-effort out-of-band signal
	MsgPing     MessageType = 8 // Health check
	MsgPong     MessageType = 9 // Health response
)

// Header is the common message header.
type Header struct {
	Type      MessageType
	RequestID uint64
	Timestamp int64 // Unix nano
}

// HeaderSize is the size of serialized header.
const HeaderSize = 1 + 8 + 8 // type + request_id + timestamp

// SerializeHeader writes header to buffer.
func SerializeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint64(buf[1:9], h.RequestID)
	binary.BigEndian.PutUint64(buf[9:17], uint64(h.Timestamp))
	return buf
}

// DeserializeHeader reads header from buffer.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.New("buffer too small for header")
	}
	return Header{
		Type:      MessageType(buf[0]),
		RequestID: binary.BigEndian.Uint64(buf[1:9]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[9:17])),
	}, nil
}

// RegionWire is the wire format for an exported region descriptor.
type RegionWire struct {
	ID     uint64 `msgpack:"i"`
	Kind   string `msgpack:"k"` // DRAM, VRAM or FILE
	Length int    `msgpack:"l"`
	Mode   int    `msgpack:"m"`
}

// HelloRequest asks a peer for its identity and region table.
type HelloRequest struct {
	AgentName string `msgpack:"name"`
}

// HelloResponse carries the peer's identity and exported regions.
type HelloResponse struct {
	AgentName string       `msgpack:"name"`
	Regions   []RegionWire `msgpack:"regions"`
}

// WriteRequest pushes bytes into a region owned by the peer.
type WriteRequest struct {
	Region     uint64 `msgpack:"r"`
	Length     int    `msgpack:"l"` // uncompressed byte count
	Compressed bool   `msgpack:"z"`
	Checksum   uint32 `msgpack:"c"` // CRC32 of the uncompressed bytes
	Data       []byte `msgpack:"d"`
}

// WriteResponse confirms a write.
type WriteResponse struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"err"` // Empty if success
}

// ReadRequest pulls bytes out of a region owned by the peer.
type ReadRequest struct {
	Region   uint64 `msgpack:"r"`
	Length   int    `msgpack:"l"`
	Compress bool   `msgpack:"z"` // peer may compress the response
}

// ReadResponse returns region bytes.
type ReadResponse struct {
	Compressed bool   `msgpack:"z"`
	Checksum   uint32 `msgpack:"c"`
	Data       []byte `msgpack:"d"`
	Error      string `msgpack:"err"`
}

// NotifyMessage is a best-effort one-way signal. No acknowledgment.
type NotifyMessage struct {
	Sender  string `msgpack:"s"`
	Payload []byte `msgpack:"p"`
}

// PingRequest is a health check.
type PingRequest struct {
	SentAt int64 `msgpack:"sent_at"`
}

// PongResponse is the ping reply.
type PongResponse struct {
	SentAt     int64 `msgpack:"sent_at"`     // Echo back
	ReceivedAt int64 `msgpack:"received_at"` // When received
	Regions    int64 `msgpack:"regions"`     // Registered region count
	Bytes      int64 `msgpack:"bytes"`       // Registered byte total
}

// WriteMessage writes a message to a writer.
func WriteMessage(w io.Writer, msgType MessageType, reqID uint64, payload interface{}) error {
	header := Header{
		Type:      msgType,
		RequestID: reqID,
		Timestamp: time.Now().UnixNano(),
	}

	if _, err := w.Write(SerializeHeader(header)); err != nil {
		return err
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}

	// Payload length prefix (4 bytes)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

// ReadMessage reads a message from a reader.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Header{}, nil, err
	}

	header, err := DeserializeHeader(headerBuf)
	if err != nil {
		return Header{}, nil, err
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Header{}, nil, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf)

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, err
	}

	return header, payload, nil
}

// DecodePayload unmarshals payload into target.
func DecodePayload(data []byte, target interface{}) error {
	return msgpack.Unmarshal(data, target)
}
