// Package client drives a worker from the host side. Work is only sent
// after LOADED; the worker drops anything that arrives earlier.
package client

import (
	"errors"
	"fmt"
	"image"
	"io"

	"vision-worker/internal/chartdata"
	"vision-worker/internal/logger"
	"vision-worker/internal/opencv/conversion"
	"vision-worker/internal/protocol"
)

// WorkerError is an ERROR message received from the worker.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker error: " + e.Message
}

type Client struct {
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	log    logger.Logger
	loaded bool
}

func New(r io.Reader, w io.Writer, maxLineBytes int, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		enc: protocol.NewEncoder(w),
		dec: protocol.NewDecoder(r, maxLineBytes),
		log: log,
	}
}

// next skips malformed lines and returns the next decodable message.
func (c *Client) next() (protocol.Outbound, error) {
	for {
		var out protocol.Outbound
		err := c.dec.Decode(&out)
		var malformed *protocol.MalformedError
		if errors.As(err, &malformed) {
			c.log.Warning("Client", "skipping malformed worker output", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if errors.Is(err, io.EOF) {
			return protocol.Outbound{}, io.ErrUnexpectedEOF
		}
		return out, err
	}
}

// AwaitLoaded blocks until the worker reports LOADED. An ERROR (load
// timeout) is returned as *WorkerError.
func (c *Client) AwaitLoaded() error {
	if c.loaded {
		return nil
	}
	for {
		out, err := c.next()
		if err != nil {
			return fmt.Errorf("await loaded: %w", err)
		}
		switch out.Type {
		case protocol.TypeLoaded:
			c.loaded = true
			return nil
		case protocol.TypeError:
			return &WorkerError{Message: out.Error}
		default:
			c.log.Debug("Client", "ignoring message before LOADED", map[string]interface{}{"type": out.Type})
		}
	}
}

// Process sends one PROCESS_IMAGE request and waits for its answer.
func (c *Client) Process(img image.Image, filterType string) (*image.NRGBA, error) {
	if err := c.AwaitLoaded(); err != nil {
		return nil, err
	}

	width, height, pixels := conversion.ImageToPixels(img)
	err := c.enc.Encode(protocol.Inbound{
		Type:       protocol.TypeProcessImage,
		Width:      width,
		Height:     height,
		ImageData:  pixels,
		FilterType: filterType,
	})
	if err != nil {
		return nil, err
	}

	for {
		out, err := c.next()
		if err != nil {
			return nil, fmt.Errorf("await result: %w", err)
		}
		switch out.Type {
		case protocol.TypeResult:
			data, err := out.Pixels()
			if err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
			return conversion.PixelsToImage(out.Width, out.Height, data)
		case protocol.TypeError:
			return nil, &WorkerError{Message: out.Error}
		default:
			c.log.Debug("Client", "ignoring message while awaiting result", map[string]interface{}{"type": out.Type})
		}
	}
}

// Generate requests count synthetic records and hands every chunk to
// onChunk until COMPLETE arrives.
func (c *Client) Generate(count int, onChunk func(records []chartdata.Record, progress float64)) error {
	if err := c.enc.Encode(protocol.Inbound{Type: protocol.TypeGenerate, Count: count}); err != nil {
		return err
	}

	for {
		out, err := c.next()
		if err != nil {
			return fmt.Errorf("await chunks: %w", err)
		}
		switch out.Type {
		case protocol.TypeChunk:
			records, err := out.Records()
			if err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			onChunk(records, out.Progress)
		case protocol.TypeComplete:
			return nil
		default:
			c.log.Debug("Client", "ignoring message while generating", map[string]interface{}{"type": out.Type})
		}
	}
}
