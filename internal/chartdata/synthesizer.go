// Package chartdata synthesises labelled random series for dashboard
// load testing and streams them in fixed-size chunks.
package chartdata

import (
	"fmt"
	"math/rand/v2"
)

const (
	DefaultCount     = 10000
	DefaultChunkSize = 500
	PointsPerSeries  = 20
	MaxValue         = 100
)

type Record struct {
	ID     int      `json:"id"`
	Title  string   `json:"title"`
	Data   []int    `json:"data"`
	Labels []string `json:"labels"`
}

type EventKind int

const (
	EventChunk EventKind = iota + 1
	EventComplete
)

// Event is either a Chunk of records with its progress fraction, or the
// single Complete that ends a generation.
type Event struct {
	Kind     EventKind
	Records  []Record
	Progress float64
}

type Synthesizer struct {
	rng       *rand.Rand
	chunkSize int
}

// New seeds the generator; equal seeds give equal output.
func New(seed uint64) *Synthesizer {
	return &Synthesizer{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		chunkSize: DefaultChunkSize,
	}
}

// Generate emits ceil(count/500) chunks followed by one Complete. A
// non-positive count means DefaultCount.
func (s *Synthesizer) Generate(count int, emit func(Event)) {
	if count <= 0 {
		count = DefaultCount
	}

	for start := 0; start < count; start += s.chunkSize {
		limit := min(start+s.chunkSize, count)

		records := make([]Record, 0, limit-start)
		for id := start; id < limit; id++ {
			records = append(records, s.record(id))
		}

		emit(Event{
			Kind:     EventChunk,
			Records:  records,
			Progress: float64(limit) / float64(count),
		})
	}

	emit(Event{Kind: EventComplete})
}

func (s *Synthesizer) record(id int) Record {
	data := make([]int, PointsPerSeries)
	labels := make([]string, PointsPerSeries)
	for i := range PointsPerSeries {
		data[i] = s.rng.IntN(MaxValue)
		labels[i] = fmt.Sprintf("%ds", i)
	}

	return Record{
		ID:     id,
		Title:  fmt.Sprintf("CHART_NODE_%05d", id),
		Data:   data,
		Labels: labels,
	}
}
