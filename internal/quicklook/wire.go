package quicklook

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single streamed frame's payload size, guarding
// against a malformed or hostile length prefix forcing a huge allocation.
const MaxFrameBytes = 64 << 20 // 64 MiB.

// MessageKind discriminates the union carried by one frame: a progress
// record, a result record, an error envelope, or a null terminator.
type MessageKind string

// MessageKind values.
const (
	MessageKindGenerateProgress MessageKind = "generate_progress"
	MessageKindMergeProgress    MessageKind = "merge_progress"
	MessageKindTransferProgress MessageKind = "transfer_progress"
	MessageKindResult           MessageKind = "result"
	MessageKindError            MessageKind = "error"
	MessageKindTerminator       MessageKind = "terminator"
)

// ProgressPayload carries the per-stage counters reported in a progress
// frame. Generate populates Downloaded/Preprocess/TileBuild; merge and
// transfer populate Done/Total.
type ProgressPayload struct {
	Worker     string `json:"worker"`
	Downloaded int    `json:"downloaded,omitempty"`
	Preprocess int    `json:"preprocess,omitempty"`
	TileBuild  int    `json:"tileBuild,omitempty"`
	Done       int    `json:"done,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// CcdMeta is the per-CCD result metadata emitted during the generate stage.
type CcdMeta struct {
	CcdName   string `json:"ccdName"`
	Worker    string `json:"worker"`
	TileCount int    `json:"tileCount"`
	Bytes     int64  `json:"bytes"`
}

// Envelope is the self-describing frame payload: exactly one of Progress,
// Result, or Error is populated, matching Kind. A Kind of
// MessageKindTerminator carries neither and signals clean stream end.
type Envelope struct {
	Kind     MessageKind      `json:"kind"`
	Progress *ProgressPayload `json:"progress,omitempty"`
	Result   *CcdMeta         `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ProgressEnvelope wraps a progress payload under the given kind.
func ProgressEnvelope(kind MessageKind, p ProgressPayload) Envelope {
	return Envelope{Kind: kind, Progress: &p}
}

// ResultEnvelope wraps a per-CCD result record.
func ResultEnvelope(m CcdMeta) Envelope {
	return Envelope{Kind: MessageKindResult, Result: &m}
}

// ErrorEnvelope wraps a stage-failing error message.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Kind: MessageKindError, Error: msg}
}

// TerminatorEnvelope signals clean stream end.
func TerminatorEnvelope() Envelope {
	return Envelope{Kind: MessageKindTerminator}
}

// WriteFrame writes one length-prefixed frame: a big-endian uint32 byte
// count followed by the JSON-encoded envelope.
func WriteFrame(w io.Writer, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame and decodes its envelope.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameBytes {
		return Envelope{}, fmt.Errorf("frame length %d exceeds %d byte limit", length, MaxFrameBytes)
	}

	payload := make([]byte, length)

	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, fmt.Errorf("read frame payload: %w", err)
	}

	var env Envelope

	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	return env, nil
}
