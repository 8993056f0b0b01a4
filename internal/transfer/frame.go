// Package transfer implements the chunked, checksummed file-transfer
// protocol (C5) that runs over the N ordered reliable channels opened by
// the Transport Adapter once a session reaches rtc_session_ready.
package transfer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// FrameType is the 1-byte tag every wire frame leads with.
type FrameType byte

const (
	FrameMetadata FrameType = 1
	FrameChunk    FrameType = 2
	FrameComplete FrameType = 3
	FrameAck      FrameType = 4
	FrameSuccess  FrameType = 5
	FrameFailed   FrameType = 6
	FrameCancel   FrameType = 7
)

func (t FrameType) String() string {
	switch t {
	case FrameMetadata:
		return "FILE_METADATA"
	case FrameChunk:
		return "FILE_CHUNK"
	case FrameComplete:
		return "FILE_COMPLETE"
	case FrameAck:
		return "TRANSFER_ACK"
	case FrameSuccess:
		return "TRANSFER_SUCCESS"
	case FrameFailed:
		return "TRANSFER_FAILED"
	case FrameCancel:
		return "TRANSFER_CANCEL"
	default:
		return fmt.Sprintf("FRAME(%d)", byte(t))
	}
}

// FileMetadata is the JSON payload of a FILE_METADATA frame.
type FileMetadata struct {
	TransferID string `json:"transferId"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ChunkSize  int    `json:"chunkSize"`
	Channels   int    `json:"channels"`
	Checksum   string `json:"checksum"`
}

// EncodeMetadata builds a FILE_METADATA frame: tag ‖ UTF-8 JSON.
func EncodeMetadata(meta FileMetadata) ([]byte, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	buf := make([]byte, 1+len(body))
	buf[0] = byte(FrameMetadata)
	copy(buf[1:], body)
	return buf, nil
}

// DecodeMetadata parses a FILE_METADATA frame's body (tag already stripped).
func DecodeMetadata(body []byte) (FileMetadata, error) {
	var meta FileMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return FileMetadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

// EncodeChunk builds a FILE_CHUNK frame: tag ‖ u32 BE index ‖ payload.
func EncodeChunk(index uint32, payload []byte) []byte {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = byte(FrameChunk)
	binary.BigEndian.PutUint32(buf[1:5], index)
	copy(buf[5:], payload)
	return buf
}

// DecodeChunk parses a FILE_CHUNK frame's body (tag already stripped).
func DecodeChunk(body []byte) (index uint32, payload []byte, err error) {
	if len(body) < 4 {
		return 0, nil, fmt.Errorf("chunk frame too short: %d bytes", len(body))
	}
	return binary.BigEndian.Uint32(body[:4]), body[4:], nil
}

// EncodeString builds a frame whose payload is a raw UTF-8 string, used
// by every control frame type except METADATA and CHUNK.
func EncodeString(t FrameType, s string) []byte {
	buf := make([]byte, 1+len(s))
	buf[0] = byte(t)
	copy(buf[1:], s)
	return buf
}

// Decode splits a raw frame into its type tag and body.
func Decode(frame []byte) (FrameType, []byte, error) {
	if len(frame) < 1 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	return FrameType(frame[0]), frame[1:], nil
}
