package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestHeader_Serialization(t *testing.T) {
	header := Header{
		Type:      MsgWrite,
		RequestID: 12345,
		Timestamp: time.Now().UnixNano(),
	}

	buf := SerializeHeader(header)
	if len(buf) != HeaderSize {
		t.Errorf("Expected buffer size %d, got %d", HeaderSize, len(buf))
	}

	decoded, err := DeserializeHeader(buf)
	if err != nil {
		t.Fatalf("DeserializeHeader failed: %v", err)
	}

	if decoded.Type != header.Type {
		t.Errorf("Type mismatch: %d vs %d", decoded.Type, header.Type)
	}
	if decoded.RequestID != header.RequestID {
		t.Errorf("RequestID mismatch: %d vs %d", decoded.RequestID, header.RequestID)
	}
	if decoded.Timestamp != header.Timestamp {
		t.Errorf("Timestamp mismatch: %d vs %d", decoded.Timestamp, header.Timestamp)
	}
}

func TestHeader_DeserializeTooSmall(t *testing.T) {
	buf := make([]byte, HeaderSize-1)
	_, err := DeserializeHeader(buf)
	if err == nil {
		t.Error("Expected error for too small buffer")
	}
}

func TestWriteReadMessage_Hello(t *testing.T) {
	var buf bytes.Buffer

	resp := HelloResponse{
		AgentName: "target",
		Regions: []RegionWire{
			{ID: 1, Kind: "DRAM", Length: 256, Mode: 3},
			{ID: 2, Kind: "FILE", Length: 4096, Mode: 1},
		},
	}

	reqID := uint64(42)
	if err := WriteMessage(&buf, MsgHelloAck, reqID, resp); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	header, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if header.Type != MsgHelloAck {
		t.Errorf("Expected MsgHelloAck, got %d", header.Type)
	}
	if header.RequestID != reqID {
		t.Errorf("Expected RequestID %d, got %d", reqID, header.RequestID)
	}

	var decoded HelloResponse
	if err := DecodePayload(payload, &decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}

	if decoded.AgentName != "target" {
		t.Errorf("AgentName mismatch: %s", decoded.AgentName)
	}
	if len(decoded.Regions) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(decoded.Regions))
	}
	if decoded.Regions[1].Kind != "FILE" {
		t.Errorf("Kind mismatch: %s", decoded.Regions[1].Kind)
	}
}

func TestWriteReadMessage_WriteRequest(t *testing.T) {
	var buf bytes.Buffer

	data := []byte{0xba, 0xba, 0xba, 0xba}
	req := WriteRequest{
		Region:   7,
		Length:   len(data),
		Checksum: 0xdeadbeef,
		Data:     data,
	}

	if err := WriteMessage(&buf, MsgWrite, 1, req); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	header, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if header.Type != MsgWrite {
		t.Errorf("Expected MsgWrite, got %d", header.Type)
	}

	var decoded WriteRequest
	if err := DecodePayload(payload, &decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if decoded.Region != 7 {
		t.Errorf("Region mismatch: %d", decoded.Region)
	}
	if !bytes.Equal(decoded.Data, data) {
		t.Error("Data mismatch after round trip")
	}
	if decoded.Checksum != 0xdeadbeef {
		t.Errorf("Checksum mismatch: %x", decoded.Checksum)
	}
}

func TestWriteReadMessage_Notify(t *testing.T) {
	var buf bytes.Buffer

	msg := NotifyMessage{Sender: "initiator", Payload: []byte("UUID1")}
	if err := WriteMessage(&buf, MsgNotify, 9, msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	header, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if header.Type != MsgNotify {
		t.Errorf("Expected MsgNotify, got %d", header.Type)
	}

	var decoded NotifyMessage
	if err := DecodePayload(payload, &decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if decoded.Sender != "initiator" {
		t.Errorf("Sender mismatch: %s", decoded.Sender)
	}
	if string(decoded.Payload) != "UUID1" {
		t.Errorf("Payload mismatch: %q", decoded.Payload)
	}
}

func TestReadMessage_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgPing, 1, PingRequest{SentAt: time.Now().UnixNano()}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	if _, _, err := ReadMessage(truncated); err == nil {
		t.Error("Expected error for truncated message")
	}
}
