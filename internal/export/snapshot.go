// Package export turns buffer contents into Arrow records for inspection,
// IPC files and Flight publishing.
package export

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Fields: { name: utf8, device: utf8, dtype: utf8, site: uint64, values: list<float64> }
var Fields = []arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "device", Type: arrow.BinaryTypes.String},
	{Name: "dtype", Type: arrow.BinaryTypes.String},
	{Name: "site", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
}

// RunIDKey is the schema metadata key carrying the producing run.
const RunIDKey = "quiver.run_id"

// Option configures a Snapshot.
type Option func(*Snapshot)

// WithRunID stamps records with the id of the run that produced them.
func WithRunID(id string) Option {
	return func(s *Snapshot) { s.runID = id }
}

// Snapshot accumulates one row per buffer.
type Snapshot struct {
	schema  *arrow.Schema
	runID   string
	names   *array.StringBuilder
	devices *array.StringBuilder
	dtypes  *array.StringBuilder
	sites   *array.Uint64Builder
	values  *array.ListBuilder
	floats  *array.Float64Builder
	rows    int
}

// NewSnapshot creates an empty snapshot whose columns are built with alloc.
func NewSnapshot(alloc memory.Allocator, opts ...Option) *Snapshot {
	values := array.NewListBuilder(alloc, arrow.PrimitiveTypes.Float64)
	s := &Snapshot{
		names:   array.NewStringBuilder(alloc),
		devices: array.NewStringBuilder(alloc),
		dtypes:  array.NewStringBuilder(alloc),
		sites:   array.NewUint64Builder(alloc),
		values:  values,
		floats:  values.ValueBuilder().(*array.Float64Builder),
	}
	for _, o := range opts {
		o(s)
	}
	var md *arrow.Metadata
	if s.runID != "" {
		m := arrow.NewMetadata([]string{RunIDKey}, []string{s.runID})
		md = &m
	}
	s.schema = arrow.NewSchema(Fields, md)
	return s
}

// Schema returns the schema of the records this snapshot builds.
func (s *Snapshot) Schema() *arrow.Schema { return s.schema }

// Add appends the contents of b as a row. Values are widened to float64;
// half floats go through float16 conversion.
func Add[T mem.Element](s *Snapshot, name string, b *buffer.Buffer[T]) error {
	data, err := b.Read()
	if err != nil {
		return errors.Wrapf(err, "export: read %s", name)
	}
	s.names.Append(name)
	s.devices.Append(b.Device().Name())
	s.dtypes.Append(mem.DTypeOf[T]().String())
	s.sites.Append(uint64(b.Site()))
	s.values.Append(true)
	s.floats.Reserve(len(data))
	for _, v := range data {
		s.floats.UnsafeAppend(mem.ToFloat64(v))
	}
	s.rows++
	return nil
}

// Len is the number of rows added since the last Record.
func (s *Snapshot) Len() int { return s.rows }

// Record builds a record from the rows added so far and resets the builders.
// The caller releases the record.
func (s *Snapshot) Record() arrow.RecordBatch {
	cols := []arrow.Array{
		s.names.NewArray(),
		s.devices.NewArray(),
		s.dtypes.NewArray(),
		s.sites.NewArray(),
		s.values.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	rec := array.NewRecordBatch(s.schema, cols, int64(s.rows))
	s.rows = 0
	return rec
}

// Release frees the builders.
func (s *Snapshot) Release() {
	s.names.Release()
	s.devices.Release()
	s.dtypes.Release()
	s.sites.Release()
	s.values.Release()
}

// WriteIPC streams recs to w in the Arrow IPC stream format. All records
// must share the schema of the first.
func WriteIPC(w io.Writer, recs ...arrow.RecordBatch) error {
	if len(recs) == 0 {
		return errors.New("export: no records to write")
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return errors.Wrap(err, "export: write record")
		}
	}
	return writer.Close()
}

// ReadIPC reads every record from an IPC stream. The caller releases them.
func ReadIPC(r io.Reader, alloc memory.Allocator) ([]arrow.RecordBatch, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(alloc))
	if err != nil {
		return nil, errors.Wrap(err, "export: open stream")
	}
	defer reader.Release()

	var out []arrow.RecordBatch
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := reader.Err(); err != nil {
		for _, rec := range out {
			rec.Release()
		}
		return nil, errors.Wrap(err, "export: read stream")
	}
	return out, nil
}
