package chartdata

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func collect(s *Synthesizer, count int) []Event {
	var events []Event
	s.Generate(count, func(ev Event) { events = append(events, ev) })
	return events
}

func TestGenerateChunking(t *testing.T) {
	tests := []struct {
		count      int
		chunks     int
		progresses []float64
	}{
		{1000, 2, []float64{0.5, 1.0}},
		{1, 1, []float64{1.0}},
		{500, 1, []float64{1.0}},
		{501, 2, []float64{500.0 / 501.0, 1.0}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.count), func(t *testing.T) {
			events := collect(New(1), tt.count)
			if len(events) != tt.chunks+1 {
				t.Fatalf("Expected %d events, got %d", tt.chunks+1, len(events))
			}

			nextID := 0
			for i := 0; i < tt.chunks; i++ {
				ev := events[i]
				if ev.Kind != EventChunk {
					t.Fatalf("Event %d: expected chunk, got %v", i, ev.Kind)
				}
				if ev.Progress != tt.progresses[i] {
					t.Errorf("Chunk %d progress = %v, want %v", i, ev.Progress, tt.progresses[i])
				}
				for _, r := range ev.Records {
					if r.ID != nextID {
						t.Fatalf("Expected id %d, got %d", nextID, r.ID)
					}
					nextID++
				}
			}
			if nextID != tt.count {
				t.Errorf("Expected %d records, got %d", tt.count, nextID)
			}
			if last := events[len(events)-1]; last.Kind != EventComplete {
				t.Errorf("Expected final Complete, got %v", last.Kind)
			}
		})
	}
}

func TestGenerateDefaultCount(t *testing.T) {
	for _, count := range []int{0, -5} {
		events := collect(New(1), count)
		chunks := len(events) - 1
		if chunks != DefaultCount/DefaultChunkSize {
			t.Errorf("count %d: expected %d chunks, got %d", count, DefaultCount/DefaultChunkSize, chunks)
		}
	}
}

func TestRecordShape(t *testing.T) {
	events := collect(New(7), 3)
	r := events[0].Records[2]

	if r.Title != "CHART_NODE_00002" {
		t.Errorf("Unexpected title %q", r.Title)
	}
	if len(r.Data) != PointsPerSeries || len(r.Labels) != PointsPerSeries {
		t.Fatalf("Expected %d points, got %d/%d", PointsPerSeries, len(r.Data), len(r.Labels))
	}
	for i, v := range r.Data {
		if v < 0 || v >= MaxValue {
			t.Errorf("Value %d out of range: %d", i, v)
		}
		if want := fmt.Sprintf("%ds", i); r.Labels[i] != want {
			t.Errorf("Label %d = %q, want %q", i, r.Labels[i], want)
		}
	}
}

func TestSeedDeterminism(t *testing.T) {
	a := collect(New(42), 10)
	b := collect(New(42), 10)
	c := collect(New(43), 10)

	if !reflect.DeepEqual(a, b) {
		t.Error("Equal seeds produced different data")
	}
	if reflect.DeepEqual(a, c) {
		t.Error("Different seeds produced identical data")
	}
}

func TestWorkerServesRequests(t *testing.T) {
	w := NewWorker(New(1), nil)
	inbox := make(chan GenerateRequest)
	events := make(chan Event, 16)
	done := make(chan error, 1)

	go func() {
		done <- w.Run(context.Background(), inbox, func(ev Event) { events <- ev })
	}()

	inbox <- GenerateRequest{Count: 600}
	close(inbox)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	close(events)
	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventChunk, EventChunk, EventComplete}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("Expected %v, got %v", want, kinds)
	}
}
