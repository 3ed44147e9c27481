package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineBytes bounds a single engine message.
const maxLineBytes = 1 << 20

// ErrUnknownType is returned by Decode for an unrecognised "type".
var ErrUnknownType = errors.New("engine: unknown message type")

// Decode parses one line of engine output.
func Decode(line []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("engine: malformed message: %w", err)
	}

	var msg Message
	var err error
	switch envelope.Type {
	case TypeReady:
		msg, err = decodeAs[Ready](line)
	case TypeStatus:
		msg, err = decodeAs[Status](line)
	case TypeSegment:
		msg, err = decodeAs[Segment](line)
	case TypeSpeakerSegment:
		msg, err = decodeAs[SpeakerSegment](line)
	case TypeSpeakerChange:
		msg, err = decodeAs[SpeakerChange](line)
	case TypeDiarizationAvailable:
		msg, err = decodeAs[DiarizationAvailable](line)
	case TypeDiarizationUnavailable:
		msg, err = decodeAs[DiarizationUnavailable](line)
	case TypeHealthWarning:
		msg, err = decodeAs[HealthWarning](line)
	case TypeHealthRecovery:
		msg, err = decodeAs[HealthRecovery](line)
	case TypeSerializationError:
		msg, err = decodeAs[SerializationError](line)
	case TypeError:
		msg, err = decodeAs[Error](line)
	case TypeComplete:
		msg, err = decodeAs[Complete](line)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: decode %s: %w", envelope.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](line []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode renders a message as one JSON line including the type field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(m.Type())
	fields["type"] = t
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Reader yields messages from a line-delimited stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next returns the next raw line. It returns io.EOF at end of stream.
// Blank lines are skipped.
func (r *Reader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		return cp, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
