package protocol

import (
	"context"
	"errors"
	"io"
	"sync"

	"vision-worker/internal/chartdata"
	"vision-worker/internal/logger"
	"vision-worker/internal/worker"
)

// Server connects a line-delimited message stream to the vision and
// chart-data actors. Either actor may be nil; messages for a missing actor
// are ignored.
type Server struct {
	vision       *worker.Worker
	charts       *chartdata.Worker
	log          logger.Logger
	maxLineBytes int
}

func NewServer(vision *worker.Worker, charts *chartdata.Worker, log logger.Logger, maxLineBytes int) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		vision:       vision,
		charts:       charts,
		log:          log,
		maxLineBytes: maxLineBytes,
	}
}

type decoded struct {
	in  Inbound
	err error
}

// Serve runs until r is exhausted or ctx is cancelled. Work already handed
// to an actor is finished and its events written before Serve returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := NewEncoder(w)
	visionIn := make(chan worker.FilterRequest)
	chartIn := make(chan chartdata.GenerateRequest)

	var wg sync.WaitGroup
	if s.vision != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.vision.Run(ctx, visionIn, func(ev worker.Event) {
				msg, err := FromWorkerEvent(ev)
				if err == nil {
					err = enc.Encode(msg)
				}
				if err != nil {
					s.log.Error("Server", err, map[string]interface{}{"event": ev.Kind.String()})
				}
			})
			s.logExit("vision", err)
		}()
	}
	if s.charts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.charts.Run(ctx, chartIn, func(ev chartdata.Event) {
				msg, err := FromChartEvent(ev)
				if err == nil {
					err = enc.Encode(msg)
				}
				if err != nil {
					s.log.Error("Server", err, nil)
				}
			})
			s.logExit("chartdata", err)
		}()
	}

	lines := make(chan decoded)
	go func() {
		defer close(lines)
		dec := NewDecoder(r, s.maxLineBytes)
		for {
			in, err := dec.Next()
			select {
			case lines <- decoded{in: in, err: err}:
			case <-ctx.Done():
				return
			}
			var malformed *MalformedError
			if err != nil && !errors.As(err, &malformed) {
				return
			}
		}
	}()

	err := s.route(ctx, lines, visionIn, chartIn)
	close(visionIn)
	close(chartIn)
	wg.Wait()
	return err
}

func (s *Server) route(ctx context.Context, lines <-chan decoded, visionIn chan<- worker.FilterRequest, chartIn chan<- chartdata.GenerateRequest) error {
	for {
		var msg decoded
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-lines:
			if !ok {
				return ctx.Err()
			}
			msg = m
		}

		if msg.err != nil {
			var malformed *MalformedError
			if errors.As(msg.err, &malformed) {
				s.log.Warning("Server", "skipping malformed message", map[string]interface{}{
					"error": malformed.Error(),
				})
				continue
			}
			if errors.Is(msg.err, io.EOF) {
				s.log.Debug("Server", "input closed", nil)
				return nil
			}
			return msg.err
		}

		switch msg.in.Type {
		case TypeProcessImage:
			if s.vision == nil {
				s.log.Warning("Server", "vision worker disabled, ignoring message", nil)
				continue
			}
			select {
			case visionIn <- msg.in.FilterRequest():
			case <-ctx.Done():
				return ctx.Err()
			}
		case TypeGenerate:
			if s.charts == nil {
				s.log.Warning("Server", "chart worker disabled, ignoring message", nil)
				continue
			}
			select {
			case chartIn <- msg.in.GenerateRequest():
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			s.log.Debug("Server", "ignoring unknown message type", map[string]interface{}{
				"type": msg.in.Type,
			})
		}
	}
}

func (s *Server) logExit(actor string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Server", err, map[string]interface{}{"actor": actor})
		return
	}
	s.log.Debug("Server", "actor stopped", map[string]interface{}{"actor": actor})
}
