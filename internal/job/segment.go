package job

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fedutinova/meetnotes/internal/common"
)

type PayloadKind string

const (
	KindBase64 PayloadKind = "base64"
	KindBuffer PayloadKind = "buffer"
)

// Payload is one segment's audio in either of its transport encodings.
type Payload interface {
	Kind() PayloadKind
	// Bytes decodes the payload to raw audio.
	Bytes() ([]byte, error)
	// Base64 normalizes the payload to standard base64 text.
	Base64() (string, error)
	Len() int
}

// TextPayload is audio that arrived already base64-encoded, optionally as a data URL.
type TextPayload string

func (p TextPayload) Kind() PayloadKind { return KindBase64 }

func (p TextPayload) Base64() (string, error) {
	s := string(p)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return "", common.ErrEmptyPayload
	}
	return s, nil
}

func (p TextPayload) Bytes() ([]byte, error) {
	s, err := p.Base64()
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	return b, nil
}

func (p TextPayload) Len() int { return len(p) }

// BinaryPayload is raw audio bytes.
type BinaryPayload []byte

func (p BinaryPayload) Kind() PayloadKind { return KindBuffer }

func (p BinaryPayload) Bytes() ([]byte, error) {
	if len(p) == 0 {
		return nil, common.ErrEmptyPayload
	}
	return p, nil
}

func (p BinaryPayload) Base64() (string, error) {
	if len(p) == 0 {
		return "", common.ErrEmptyPayload
	}
	return base64.StdEncoding.EncodeToString(p), nil
}

func (p BinaryPayload) Len() int { return len(p) }

// SegmentInput carries the encodings a producer may deliver. Some message paths drop
// Buffer silently, which is why ByteArray exists as a fallback.
type SegmentInput struct {
	Base64    string
	Buffer    []byte
	ByteArray []int
}

// NewPayload picks the first decodable encoding: base64 text, then the binary buffer,
// then the byte array.
func NewPayload(in SegmentInput) (Payload, error) {
	if in.Base64 != "" {
		text := TextPayload(in.Base64)
		if b, err := text.Bytes(); err == nil && len(b) > 0 {
			return text, nil
		}
	}
	if len(in.Buffer) > 0 {
		return BinaryPayload(in.Buffer), nil
	}
	if len(in.ByteArray) > 0 {
		buf := make([]byte, len(in.ByteArray))
		for i, v := range in.ByteArray {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("byte %d out of range: %d: %w", i, v, common.ErrEmptyPayload)
			}
			buf[i] = byte(v)
		}
		return BinaryPayload(buf), nil
	}
	return nil, common.ErrEmptyPayload
}

// Segment is a stored payload slot. A nil *Segment in Job.Segments is a gap.
type Segment struct {
	Payload
}

type segmentJSON struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	if s.Payload == nil {
		return []byte("null"), nil
	}
	var (
		data []byte
		err  error
	)
	switch p := s.Payload.(type) {
	case TextPayload:
		data, err = json.Marshal(string(p))
	case BinaryPayload:
		data, err = json.Marshal([]byte(p))
	default:
		return nil, fmt.Errorf("unknown payload type %T", s.Payload)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(segmentJSON{Kind: s.Payload.Kind(), Data: data})
}

func (s *Segment) UnmarshalJSON(b []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case KindBase64:
		var text string
		if err := json.Unmarshal(raw.Data, &text); err != nil {
			return fmt.Errorf("segment data: %w", err)
		}
		s.Payload = TextPayload(text)
	case KindBuffer:
		var buf []byte
		if err := json.Unmarshal(raw.Data, &buf); err != nil {
			return fmt.Errorf("segment data: %w", err)
		}
		s.Payload = BinaryPayload(buf)
	default:
		return fmt.Errorf("unknown segment kind %q", raw.Kind)
	}
	return nil
}
