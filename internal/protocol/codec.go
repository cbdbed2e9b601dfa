package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineBytes fits a 4096x4096 RGBA frame encoded as base64.
const DefaultMaxLineBytes = 96 * 1024 * 1024

// Encoder writes one JSON object per line. Writes from several goroutines
// are serialised so lines never interleave.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

func (e *Encoder) Encode(v interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return nil
}

// Decoder reads line-delimited messages.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader, maxLineBytes int) *Decoder {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// Next returns the next inbound message. See Decode.
func (d *Decoder) Next() (Inbound, error) {
	var in Inbound
	if err := d.Decode(&in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

// Decode reads the next non-empty line into v. A line that is not valid
// JSON yields a *MalformedError and the decoder stays usable. io.EOF marks
// the end of input.
func (d *Decoder) Decode(v interface{}) error {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := json.Unmarshal(line, v); err != nil {
			return &MalformedError{Err: err}
		}
		return nil
	}

	if err := d.scanner.Err(); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	return io.EOF
}

// MalformedError reports a line that could not be decoded. It is not
// fatal to the stream.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return "malformed message: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}
