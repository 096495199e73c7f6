package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

// indexedSource returns n records whose first label value is the record index.
func indexedSource(t *testing.T, n int) record.MemorySource {
	src := make(record.MemorySource, n)
	for i := range src {
		src[i] = encodeRecord(t, rampValues(16, 1), []float32{float32(i), 0, 0, 1, 1, 1}, nil)
	}
	return src
}

func smallProducerConfig(batch, epochs int) ProducerConfig {
	return ProducerConfig{
		BatchSize:       batch,
		NumThreads:      3,
		Capacity:        16,
		MinAfterDequeue: 4,
		NumEpochs:       epochs,
		Seed:            11,
	}
}

func collect(t *testing.T, p *Producer) []Batch {
	var batches []Batch
	for {
		b, err := p.Next()
		if errors.Is(err, limbs.ErrEndOfStream) {
			return batches
		}
		if err != nil {
			t.Fatalf("unexpected error after %d batches: %v", len(batches), err)
		}
		batches = append(batches, b)
	}
}

func startProducer(t *testing.T, src record.Source, cfg ProducerConfig) *Producer {
	p, err := NewProducer(src, basicConfig(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return p
}

func TestProducerExactBatches(t *testing.T) {
	p := startProducer(t, indexedSource(t, 10), smallProducerConfig(3, 2))
	defer p.Close()

	batches := collect(t, p)
	if len(batches) != 6 {
		t.Fatalf("expected 6 full batches from 20 samples, got %d", len(batches))
	}
	for i, b := range batches {
		if b.Len() != 3 {
			t.Errorf("batch %d has %d samples", i, b.Len())
		}
		data, shape := b.ImageTensor()
		if len(shape) != 4 || shape[0] != 3 || shape[1] != 4 || shape[2] != 4 || shape[3] != 1 || len(data) != 48 {
			t.Errorf("batch %d: bad image tensor shape %v", i, shape)
		}
	}
	read, skipped, _ := p.Stats()
	if read != 20 || skipped != 0 {
		t.Errorf("expected 20 records read and none skipped, got %d and %d", read, skipped)
	}
}

func TestProducerEveryRecordEachEpoch(t *testing.T) {
	cfg := smallProducerConfig(4, 3)
	cfg.AllowSmallerFinalBatch = true
	p := startProducer(t, indexedSource(t, 7), cfg)
	defer p.Close()

	counts := make(map[float32]int)
	batches := collect(t, p)
	for i, b := range batches {
		if i < len(batches)-1 && b.Len() != 4 {
			t.Errorf("batch %d has %d samples", i, b.Len())
		}
		for _, l := range b.Labels {
			counts[l.Values[0]]++
		}
	}
	if len(counts) != 7 {
		t.Fatalf("expected 7 distinct records, got %v", counts)
	}
	for idx, n := range counts {
		if n != 3 {
			t.Errorf("record %g seen %d times, expected once per epoch", idx, n)
		}
	}
	if last := batches[len(batches)-1]; last.Len() != 1 {
		t.Errorf("expected final batch of 1, got %d", last.Len())
	}
}

func TestProducerWaitsForMinimumFill(t *testing.T) {
	cfg := smallProducerConfig(2, 1)
	cfg.MinAfterDequeue = 8
	p := startProducer(t, indexedSource(t, 5), cfg)
	defer p.Close()

	b, err := p.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Len() != 2 {
		t.Errorf("expected batch of 2, got %d", b.Len())
	}
	if read, _, _ := p.Stats(); read != 5 {
		t.Errorf("first batch of a stream shorter than the minimum fill came after %d records, expected all 5", read)
	}
	if rest := collect(t, p); len(rest) != 1 {
		t.Errorf("expected one more full batch, got %d", len(rest))
	}
}

func TestProducerCorruptRecords(t *testing.T) {
	src := indexedSource(t, 6)
	src[3] = []byte{0xff}

	p := startProducer(t, src, smallProducerConfig(2, 1))
	var err error
	for err == nil {
		_, err = p.Next()
	}
	var perr *record.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("expected parse error to stop the stream, got %v", err)
	}
	p.Close()

	cfg := smallProducerConfig(1, 1)
	cfg.SkipCorrupt = true
	p = startProducer(t, src, cfg)
	defer p.Close()
	if batches := collect(t, p); len(batches) != 5 {
		t.Errorf("expected 5 good records, got %d", len(batches))
	}
	if _, skipped, _ := p.Stats(); skipped != 1 {
		t.Errorf("expected 1 skipped record, got %d", skipped)
	}
}

func TestProducerConfigErrors(t *testing.T) {
	src := indexedSource(t, 2)
	bad := basicConfig()
	bad.MaxValue = nil
	if _, err := NewProducer(src, bad, smallProducerConfig(2, 1)); !limbs.IsConfigError(err) {
		t.Errorf("expected config error for missing max value, got %v", err)
	}
	if _, err := NewProducer(src, basicConfig(), smallProducerConfig(0, 1)); !limbs.IsConfigError(err) {
		t.Errorf("expected config error for zero batch size, got %v", err)
	}
	cfg := smallProducerConfig(20, 1)
	if _, err := NewProducer(src, basicConfig(), cfg); !limbs.IsConfigError(err) {
		t.Errorf("expected config error for batch larger than buffer window, got %v", err)
	}

	def := DefaultProducerConfig(32)
	if def.Capacity != 1096 || def.MinAfterDequeue != 1000 || def.NumThreads != 2 {
		t.Errorf("unexpected defaults %+v", def)
	}
}

func TestProducerEmptySource(t *testing.T) {
	p := startProducer(t, record.MemorySource{}, smallProducerConfig(2, 0))
	defer p.Close()
	if _, err := p.Next(); err == nil || errors.Is(err, limbs.ErrEndOfStream) {
		t.Errorf("expected an error for an empty source, got %v", err)
	}
}

func TestProducerCloseUnbounded(t *testing.T) {
	p := startProducer(t, indexedSource(t, 3), smallProducerConfig(2, 0))
	for i := 0; i < 10; i++ {
		if _, err := p.Next(); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestProducerStartFailureCloses(t *testing.T) {
	p, err := NewProducer(indexedSource(t, 4), basicConfig(), smallProducerConfig(2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.decodeCfg.MaxValue = nil
	if err := p.Start(context.Background()); !limbs.IsConfigError(err) {
		t.Fatalf("expected config error from start, got %v", err)
	}
	done := make(chan error)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked after a failed start")
	}
	if _, err := p.Next(); err == nil {
		t.Errorf("expected error from an unstarted producer")
	}
}

func TestDrain(t *testing.T) {
	p := startProducer(t, indexedSource(t, 8), smallProducerConfig(2, 1))
	defer p.Close()
	var samples int
	n, err := Drain(context.Background(), p, ConsumerFunc(func(ctx context.Context, b Batch) error {
		samples += b.Len()
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 || samples != 8 {
		t.Errorf("expected 4 batches of 8 samples, got %d and %d", n, samples)
	}

	failing := ConsumerFunc(func(ctx context.Context, b Batch) error { return errors.New("disk full") })
	p2 := startProducer(t, indexedSource(t, 8), smallProducerConfig(2, 1))
	defer p2.Close()
	if _, err := Drain(context.Background(), p2, failing); err == nil {
		t.Errorf("expected consumer error to propagate")
	}
}
