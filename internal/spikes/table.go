// Package spikes provides spike trains for virtual nodes.
//
// Table keeps spikes column-wise in an Arrow record (population, node_ids,
// timestamps) with a row index per node, the layout SONATA spike files use.
package spikes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Source answers spike-time queries for virtual nodes.
type Source interface {
	// Times returns the spike times of a node in source order, or nil if the node has none.
	Times(population string, nodeID int64) []float64
}

// Spike is one spike event.
type Spike struct {
	Population string
	NodeID     int64
	Time       float64
}

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "population", Type: arrow.BinaryTypes.String},
	{Name: "node_ids", Type: arrow.PrimitiveTypes.Int64},
	{Name: "timestamps", Type: arrow.PrimitiveTypes.Float64},
}, nil)

type key struct {
	population string
	nodeID     int64
}

// Table is an immutable, Arrow-backed spike Source. Spikes recorded without a
// population answer queries for any population.
type Table struct {
	record arrow.Record
	times  *array.Float64
	rows   map[key][]int
}

// NewTable builds a table from spike events.
func NewTable(events []Spike) *Table {
	mem := memory.NewGoAllocator()
	pops := array.NewStringBuilder(mem)
	ids := array.NewInt64Builder(mem)
	ts := array.NewFloat64Builder(mem)
	defer pops.Release()
	defer ids.Release()
	defer ts.Release()

	for _, s := range events {
		pops.Append(s.Population)
		ids.Append(s.NodeID)
		ts.Append(s.Time)
	}

	cols := []arrow.Array{pops.NewArray(), ids.NewArray(), ts.NewArray()}
	rec := array.NewRecord(schema, cols, int64(len(events)))
	for _, c := range cols {
		c.Release()
	}
	return newTable(rec)
}

func newTable(rec arrow.Record) *Table {
	pops := rec.Column(0).(*array.String)
	ids := rec.Column(1).(*array.Int64)

	rows := make(map[key][]int)
	for i := 0; i < int(rec.NumRows()); i++ {
		k := key{population: pops.Value(i), nodeID: ids.Value(i)}
		rows[k] = append(rows[k], i)
	}
	return &Table{
		record: rec,
		times:  rec.Column(2).(*array.Float64),
		rows:   rows,
	}
}

// Times implements Source.
func (t *Table) Times(population string, nodeID int64) []float64 {
	rows, ok := t.rows[key{population, nodeID}]
	if !ok {
		rows, ok = t.rows[key{"", nodeID}]
	}
	if !ok {
		return nil
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = t.times.Value(r)
	}
	return out
}

// Len returns the number of spikes.
func (t *Table) Len() int {
	return int(t.record.NumRows())
}

// Nodes returns the number of distinct (population, node) keys with spikes.
func (t *Table) Nodes() int {
	return len(t.rows)
}

// Release frees the underlying Arrow buffers.
func (t *Table) Release() {
	t.record.Release()
}

// LoadCSV reads a space-separated spike file with a header naming the
// columns timestamps, node_ids and optionally population, in any order.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening spike file: %w", err)
	}
	defer f.Close()

	events, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewTable(events), nil
}

func readCSV(r io.Reader) ([]Spike, error) {
	cr := csv.NewReader(r)
	cr.Comma = ' '
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("spike file is empty")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := map[string]int{"population": -1, "node_ids": -1, "timestamps": -1}
	for i, name := range header {
		if _, ok := col[strings.TrimSpace(name)]; ok {
			col[strings.TrimSpace(name)] = i
		}
	}
	if col["node_ids"] < 0 || col["timestamps"] < 0 {
		return nil, fmt.Errorf("header must name node_ids and timestamps columns, got %v", header)
	}

	var events []Spike
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		id, err := strconv.ParseInt(rec[col["node_ids"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: node id: %w", line, err)
		}
		ts, err := strconv.ParseFloat(rec[col["timestamps"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		s := Spike{NodeID: id, Time: ts}
		if p := col["population"]; p >= 0 {
			s.Population = rec[p]
		}
		events = append(events, s)
	}
	return events, nil
}
