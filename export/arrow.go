// Package export writes batches as an Arrow IPC stream so a trainer in another
// process can consume them.  Each Arrow record holds one batch with one row per
// sample; image and label values are float32 lists and the image shape is kept
// in the schema metadata.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/pipeline"
	"github.com/janelia-flyem/limbs/record"
)

const (
	imageShapeKey = "image_shape"
	labelDimsKey  = "label_num_dims"
)

func batchSchema(imageShape []int, numDims int) *arrow.Schema {
	dims := make([]string, len(imageShape))
	for i, d := range imageShape {
		dims[i] = strconv.Itoa(d)
	}
	md := arrow.NewMetadata(
		[]string{imageShapeKey, labelDimsKey},
		[]string{strings.Join(dims, ","), strconv.Itoa(numDims)},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "batch", Type: arrow.PrimitiveTypes.Int64},
		{Name: "image", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
		{Name: "label", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
		{Name: "occlusion", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32), Nullable: true},
	}, &md)
}

// Writer streams batches in Arrow IPC format.  It implements pipeline.Consumer.
type Writer struct {
	w      io.Writer
	closer io.Closer // closed with the writer if non-nil

	pool   memory.Allocator
	schema *arrow.Schema
	ipcw   *ipc.Writer

	batches int64
	rows    int64
}

// NewWriter returns a writer onto w.  The schema is fixed by the first batch.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, pool: memory.NewGoAllocator()}
}

// Create opens ref, a local path or bucket URL, for an Arrow stream.
func Create(ctx context.Context, ref string) (*Writer, error) {
	f, err := record.CreateFile(ctx, ref)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Consume writes one batch as an Arrow record.
func (w *Writer) Consume(ctx context.Context, b pipeline.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if w.ipcw == nil {
		w.schema = batchSchema(b.Images[0].Shape(), b.Labels[0].NumDims)
		w.ipcw = ipc.NewWriter(w.w, ipc.WithSchema(w.schema), ipc.WithAllocator(w.pool))
	}
	shape := b.Images[0].Shape()
	for i, img := range b.Images {
		if img.Height != shape[0] || img.Width != shape[1] || img.Channels != shape[2] {
			return limbs.NewShapeError("export batch", "sample %d is %s, expected %v", i, img, shape)
		}
	}

	batchBuilder := array.NewInt64Builder(w.pool)
	imageBuilder := array.NewListBuilder(w.pool, arrow.PrimitiveTypes.Float32)
	labelBuilder := array.NewListBuilder(w.pool, arrow.PrimitiveTypes.Float32)
	occlusionBuilder := array.NewListBuilder(w.pool, arrow.PrimitiveTypes.Float32)
	defer func() {
		batchBuilder.Release()
		imageBuilder.Release()
		labelBuilder.Release()
		occlusionBuilder.Release()
	}()

	imageValues := imageBuilder.ValueBuilder().(*array.Float32Builder)
	labelValues := labelBuilder.ValueBuilder().(*array.Float32Builder)
	occlusionValues := occlusionBuilder.ValueBuilder().(*array.Float32Builder)
	for i := range b.Images {
		batchBuilder.Append(w.batches)
		imageBuilder.Append(true)
		imageValues.AppendValues(b.Images[i].Data, nil)
		labelBuilder.Append(true)
		labelValues.AppendValues(b.Labels[i].Values, nil)
		if b.Occlusions != nil && b.Occlusions[i] != nil {
			occlusionBuilder.Append(true)
			occlusionValues.AppendValues(b.Occlusions[i], nil)
		} else {
			occlusionBuilder.AppendNull()
		}
	}

	cols := []arrow.Array{
		batchBuilder.NewArray(),
		imageBuilder.NewArray(),
		labelBuilder.NewArray(),
		occlusionBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	rec := array.NewRecord(w.schema, cols, int64(b.Len()))
	defer rec.Release()
	if err := w.ipcw.Write(rec); err != nil {
		return fmt.Errorf("writing arrow batch %d: %w", w.batches, err)
	}
	w.batches++
	w.rows += int64(b.Len())
	return nil
}

// Count returns the number of batches and samples written.
func (w *Writer) Count() (batches, rows int64) {
	return w.batches, w.rows
}

// Close ends the stream.
func (w *Writer) Close() error {
	var err error
	if w.ipcw != nil {
		err = w.ipcw.Close()
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	limbs.Debugf("Closed arrow stream after %d batches, %d samples\n", w.batches, w.rows)
	return err
}

func parseMetadata(schema *arrow.Schema) (imageShape []int, numDims int, err error) {
	md := schema.Metadata()
	idx := md.FindKey(imageShapeKey)
	if idx < 0 {
		return nil, 0, errors.New("arrow stream has no image shape metadata")
	}
	for _, s := range strings.Split(md.Values()[idx], ",") {
		d, err := strconv.Atoi(s)
		if err != nil {
			return nil, 0, fmt.Errorf("bad image shape %q: %w", md.Values()[idx], err)
		}
		imageShape = append(imageShape, d)
	}
	numDims = limbs.DefaultNumDims
	if idx := md.FindKey(labelDimsKey); idx >= 0 {
		if numDims, err = strconv.Atoi(md.Values()[idx]); err != nil {
			return nil, 0, fmt.Errorf("bad label dims: %w", err)
		}
	}
	return imageShape, numDims, nil
}

func listRow(col arrow.Array, row int) []float32 {
	list := col.(*array.List)
	if list.IsNull(row) {
		return nil
	}
	start, end := list.ValueOffsets(row)
	values := list.ListValues().(*array.Float32).Float32Values()
	out := make([]float32, end-start)
	copy(out, values[start:end])
	return out
}

// ReadBatches reads every batch from an Arrow stream written by Writer.
func ReadBatches(r io.Reader) ([]pipeline.Batch, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	defer rdr.Release()
	imageShape, numDims, err := parseMetadata(rdr.Schema())
	if err != nil {
		return nil, err
	}

	var batches []pipeline.Batch
	for rdr.Next() {
		rec := rdr.Record()
		n := int(rec.NumRows())
		b := pipeline.Batch{
			Images: make([]limbs.Image, n),
			Labels: make([]limbs.Labels, n),
		}
		for i := 0; i < n; i++ {
			if b.Images[i], err = limbs.ImageFromData(listRow(rec.Column(1), i), imageShape); err != nil {
				return nil, err
			}
			if b.Labels[i], err = limbs.NewLabels(listRow(rec.Column(2), i), numDims); err != nil {
				return nil, err
			}
			if occ := listRow(rec.Column(3), i); occ != nil {
				if b.Occlusions == nil {
					b.Occlusions = make([][]float32, n)
				}
				b.Occlusions[i] = occ
			}
		}
		batches = append(batches, b)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return batches, nil
}
