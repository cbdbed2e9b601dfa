// Package protocol maps worker events and requests to the JSON message
// shapes exchanged with the host, and frames them as one JSON object per
// line.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"vision-worker/internal/chartdata"
	"vision-worker/internal/processing/filters"
	"vision-worker/internal/worker"
)

const (
	TypeProcessImage = "PROCESS_IMAGE"
	TypeGenerate     = "GENERATE"

	TypeLoaded   = "LOADED"
	TypeError    = "ERROR"
	TypeResult   = "RESULT"
	TypeChunk    = "CHUNK"
	TypeComplete = "COMPLETE"
)

// Bytes is a pixel payload. It is written as base64 and read from either
// a base64 string or an array of integers in [0,255], the form a browser
// host produces from a typed array.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal([]byte(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	switch data[0] {
	case '"':
		var raw []byte
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("pixel payload: %w", err)
		}
		*b = raw
		return nil
	case '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("pixel payload: %w", err)
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("pixel payload: value %d at index %d outside [0,255]", v, i)
			}
			out[i] = byte(v)
		}
		*b = out
		return nil
	default:
		return fmt.Errorf("pixel payload: expected string or array, got %q", data[0])
	}
}

// Inbound covers every message a host may send. Fields not used by a
// given type are left zero.
type Inbound struct {
	Type       string          `json:"type"`
	Width      int             `json:"width,omitempty"`
	Height     int             `json:"height,omitempty"`
	ImageData  Bytes           `json:"imageData,omitempty"`
	FilterType string          `json:"filterType,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Count      int             `json:"count,omitempty"`
}

// FilterRequest converts a PROCESS_IMAGE message. value is reserved and
// ignored.
func (in Inbound) FilterRequest() worker.FilterRequest {
	return worker.FilterRequest{
		Width:  in.Width,
		Height: in.Height,
		Pixels: in.ImageData,
		Kind:   filters.ParseKind(in.FilterType),
	}
}

func (in Inbound) GenerateRequest() chartdata.GenerateRequest {
	return chartdata.GenerateRequest{Count: in.Count}
}

type LoadedMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ResultMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   Bytes  `json:"data"`
}

type ChunkMessage struct {
	Type     string             `json:"type"`
	Data     []chartdata.Record `json:"data"`
	Progress float64            `json:"progress"`
}

type CompleteMessage struct {
	Type string `json:"type"`
}

// FromWorkerEvent returns the wire shape of a vision worker event.
func FromWorkerEvent(ev worker.Event) (interface{}, error) {
	switch ev.Kind {
	case worker.EventLoaded:
		return LoadedMessage{Type: TypeLoaded}, nil
	case worker.EventError:
		return ErrorMessage{Type: TypeError, Error: ev.Message}, nil
	case worker.EventResult:
		return ResultMessage{
			Type:   TypeResult,
			Width:  ev.Response.Width,
			Height: ev.Response.Height,
			Data:   ev.Response.Pixels,
		}, nil
	default:
		return nil, fmt.Errorf("unknown worker event kind %d", ev.Kind)
	}
}

// FromChartEvent returns the wire shape of a synthesizer event.
func FromChartEvent(ev chartdata.Event) (interface{}, error) {
	switch ev.Kind {
	case chartdata.EventChunk:
		return ChunkMessage{Type: TypeChunk, Data: ev.Records, Progress: ev.Progress}, nil
	case chartdata.EventComplete:
		return CompleteMessage{Type: TypeComplete}, nil
	default:
		return nil, fmt.Errorf("unknown chart event kind %d", ev.Kind)
	}
}

// Outbound is the host-side view of any message the worker writes. Data
// is kept raw because its shape depends on Type.
type Outbound struct {
	Type     string          `json:"type"`
	Error    string          `json:"error,omitempty"`
	Width    int             `json:"width,omitempty"`
	Height   int             `json:"height,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Progress float64         `json:"progress,omitempty"`
}

// Pixels decodes the data of a RESULT message.
func (o Outbound) Pixels() ([]byte, error) {
	var b Bytes
	if err := json.Unmarshal(o.Data, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// Records decodes the data of a CHUNK message.
func (o Outbound) Records() ([]chartdata.Record, error) {
	var records []chartdata.Record
	if err := json.Unmarshal(o.Data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
