package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/janelia-flyem/limbs/limbs"
)

// Batch is a group of samples handed to a consumer together.  Occlusions is nil
// unless records carry occlusion vectors.
type Batch struct {
	Images     []limbs.Image
	Labels     []limbs.Labels
	Occlusions [][]float32
}

func newBatch(samples []Sample) Batch {
	b := Batch{
		Images: make([]limbs.Image, len(samples)),
		Labels: make([]limbs.Labels, len(samples)),
	}
	for i, s := range samples {
		b.Images[i] = s.Image
		b.Labels[i] = s.Label
		if s.Occlusion != nil {
			if b.Occlusions == nil {
				b.Occlusions = make([][]float32, len(samples))
			}
			b.Occlusions[i] = s.Occlusion
		}
	}
	return b
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Images)
}

func (b Batch) String() string {
	if b.Len() == 0 {
		return "empty batch"
	}
	return fmt.Sprintf("batch of %d (%s, %d label values)", b.Len(), b.Images[0], b.Labels[0].Len())
}

// ImageTensor returns the images stacked into one (N, H, W, C) buffer.
func (b Batch) ImageTensor() (data []float32, shape []int) {
	if b.Len() == 0 {
		return nil, nil
	}
	shape = append([]int{b.Len()}, b.Images[0].Shape()...)
	data = make([]float32, 0, limbs.Product(shape))
	for _, img := range b.Images {
		data = append(data, img.Data...)
	}
	return data, shape
}

// LabelTensor returns the labels stacked into one (N, label length) buffer.
func (b Batch) LabelTensor() (data []float32, shape []int) {
	if b.Len() == 0 {
		return nil, nil
	}
	shape = []int{b.Len(), b.Labels[0].Len()}
	data = make([]float32, 0, shape[0]*shape[1])
	for _, l := range b.Labels {
		data = append(data, l.Values...)
	}
	return data, shape
}

// OcclusionTensor returns the occlusions stacked into one (N, tuples) buffer, or
// nil if the batch has none.
func (b Batch) OcclusionTensor() (data []float32, shape []int) {
	if len(b.Occlusions) == 0 {
		return nil, nil
	}
	shape = []int{len(b.Occlusions), len(b.Occlusions[0])}
	data = make([]float32, 0, shape[0]*shape[1])
	for _, o := range b.Occlusions {
		data = append(data, o...)
	}
	return data, shape
}

// Finite returns false if any image, label or occlusion value is NaN or infinite.
// Non-finite values are passed through untouched so consumers can detect them.
func (b Batch) Finite() bool {
	for i := range b.Images {
		if !b.Images[i].Finite() || !limbs.Finite(b.Labels[i].Values) {
			return false
		}
	}
	for _, o := range b.Occlusions {
		if !limbs.Finite(o) {
			return false
		}
	}
	return true
}

// BatchSource yields batches until limbs.ErrEndOfStream.
type BatchSource interface {
	Next() (Batch, error)
}

// Consumer receives batches, e.g., a training loop or an exporter.
type Consumer interface {
	Consume(ctx context.Context, b Batch) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, b Batch) error

// Consume implements Consumer.
func (f ConsumerFunc) Consume(ctx context.Context, b Batch) error {
	return f(ctx, b)
}

// Drain feeds every batch from src to c until the stream ends, returning the
// number of batches consumed.  End of stream is not an error.
func Drain(ctx context.Context, src BatchSource, c Consumer) (int, error) {
	var n int
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		b, err := src.Next()
		if errors.Is(err, limbs.ErrEndOfStream) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := c.Consume(ctx, b); err != nil {
			return n, fmt.Errorf("consumer failed on batch %d: %w", n, err)
		}
		n++
	}
}
