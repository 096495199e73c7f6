package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/record"
)

const (
	DefaultNumThreads      = 2
	DefaultMinAfterDequeue = 1000
)

// ProducerConfig controls batching, shuffling and worker parallelism.
type ProducerConfig struct {
	BatchSize  int
	NumThreads int // decode workers; zero means DefaultNumThreads

	// Capacity bounds the shuffle buffer.  Zero means 1000 + 3*BatchSize.
	Capacity        int
	MinAfterDequeue int

	// NumEpochs is the number of passes over the source.  Zero is unbounded.
	NumEpochs int

	AllowSmallerFinalBatch bool

	// SkipCorrupt logs and drops records that fail to decode instead of stopping
	// the stream.  Framing errors in the record file are always fatal.
	SkipCorrupt bool

	// Seed drives shuffling and augmentation.  Zero seeds from the clock.
	Seed int64
}

// DefaultProducerConfig returns the standard shuffle-batch settings.
func DefaultProducerConfig(batchSize int) ProducerConfig {
	return ProducerConfig{
		BatchSize:       batchSize,
		NumThreads:      DefaultNumThreads,
		Capacity:        DefaultMinAfterDequeue + 3*batchSize,
		MinAfterDequeue: DefaultMinAfterDequeue,
	}
}

type indexedRecord struct {
	index int
	data  []byte
}

// Producer streams shuffled batches of decoded samples from a record source.
type Producer struct {
	src       record.Source
	decodeCfg DecodeConfig
	cfg       ProducerConfig
	queue     *ShuffleQueue[Sample]

	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}

	mu      sync.Mutex
	err     error
	started bool

	read    int64
	skipped int64
	batches int64
}

// NewProducer validates both configurations and returns a producer that has not
// started reading.
func NewProducer(src record.Source, decodeCfg DecodeConfig, cfg ProducerConfig) (*Producer, error) {
	if src == nil {
		return nil, errors.New("producer needs a record source")
	}
	if cfg.BatchSize <= 0 {
		return nil, limbs.NewConfigError("batch_size", "must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NumThreads == 0 {
		cfg.NumThreads = DefaultNumThreads
	}
	if cfg.NumThreads < 0 {
		return nil, limbs.NewConfigError("num_threads", "must be positive, got %d", cfg.NumThreads)
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultMinAfterDequeue + 3*cfg.BatchSize
	}
	if cfg.NumEpochs < 0 {
		return nil, limbs.NewConfigError("num_epochs", "cannot be negative, got %d", cfg.NumEpochs)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Capacity-cfg.MinAfterDequeue < cfg.BatchSize {
		return nil, limbs.NewConfigError("capacity", "capacity %d leaves no room for a batch of %d above min_after_dequeue %d",
			cfg.Capacity, cfg.BatchSize, cfg.MinAfterDequeue)
	}

	// Surface decode configuration errors now rather than inside a worker.
	if _, err := NewDecoder(decodeCfg, rand.New(rand.NewSource(cfg.Seed))); err != nil {
		return nil, err
	}
	queue, err := NewShuffleQueue[Sample](QueueConfig{
		Capacity:               cfg.Capacity,
		MinAfterDequeue:        cfg.MinAfterDequeue,
		AllowSmallerFinalBatch: cfg.AllowSmallerFinalBatch,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, err
	}
	return &Producer{
		src:       src,
		decodeCfg: decodeCfg,
		cfg:       cfg,
		queue:     queue,
		done:      make(chan struct{}),
	}, nil
}

// Config returns the producer configuration with defaults filled in.
func (p *Producer) Config() ProducerConfig {
	return p.cfg
}

// Start launches the reader and decode workers.  It returns immediately.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("producer already started")
	}
	decoders := make([]*Decoder, p.cfg.NumThreads)
	for i := range decoders {
		dec, err := NewDecoder(p.decodeCfg, rand.New(rand.NewSource(p.cfg.Seed+int64(i)+1)))
		if err != nil {
			p.mu.Unlock()
			return err
		}
		decoders[i] = dec
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	limbs.Infof("Starting %d decode workers: batch %d, capacity %d, min after dequeue %d, epochs %d\n",
		p.cfg.NumThreads, p.cfg.BatchSize, p.cfg.Capacity, p.cfg.MinAfterDequeue, p.cfg.NumEpochs)

	records := make(chan indexedRecord, 2*p.cfg.NumThreads)
	g, gctx := errgroup.WithContext(p.ctx)
	g.Go(func() error {
		defer close(records)
		return p.readEpochs(gctx, records)
	})
	for _, dec := range decoders {
		g.Go(func() error {
			return p.decodeWorker(gctx, dec, records)
		})
	}

	go func() {
		timedLog := limbs.NewTimeLog()
		err := g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			limbs.Errorf("Record stream stopped: %v\n", err)
			p.setErr(err)
		}
		p.queue.Close()
		timedLog.Infof("Record stream done: %d records read, %d skipped", atomic.LoadInt64(&p.read),
			atomic.LoadInt64(&p.skipped))
		close(p.done)
	}()
	return nil
}

func (p *Producer) readEpochs(ctx context.Context, out chan<- indexedRecord) error {
	for epoch := 0; p.cfg.NumEpochs == 0 || epoch < p.cfg.NumEpochs; epoch++ {
		n, err := p.readEpoch(ctx, out)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if n == 0 {
			return fmt.Errorf("record source %v is empty", p.src)
		}
		limbs.Debugf("Finished epoch %d with %d records\n", epoch, n)
	}
	return nil
}

func (p *Producer) readEpoch(ctx context.Context, out chan<- indexedRecord) (int, error) {
	it, err := p.src.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int
	for {
		data, err := it.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		select {
		case out <- indexedRecord{index: n, data: data}:
		case <-ctx.Done():
			return n, ctx.Err()
		}
		n++
		atomic.AddInt64(&p.read, 1)
	}
}

func (p *Producer) decodeWorker(ctx context.Context, dec *Decoder, in <-chan indexedRecord) error {
	for rec := range in {
		sample, err := dec.Decode(rec.data)
		if err != nil {
			if p.cfg.SkipCorrupt && isCorrupt(err) {
				atomic.AddInt64(&p.skipped, 1)
				limbs.Warningf("Skipping corrupt record %d: %v\n", rec.index, err)
				continue
			}
			return fmt.Errorf("record %d: %w", rec.index, err)
		}
		if err := p.queue.Enqueue(ctx, sample); err != nil {
			return err
		}
	}
	return nil
}

func isCorrupt(err error) bool {
	var pe *record.ParseError
	return errors.As(err, &pe) || limbs.IsShapeError(err)
}

func (p *Producer) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Err returns the error that stopped the stream, if any.
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Next returns the next batch.  It blocks until the shuffle buffer is warm.  Once
// every epoch has been read and the buffer drained it returns
// limbs.ErrEndOfStream.  A fatal decode error is returned in place of any
// further batches.
func (p *Producer) Next() (Batch, error) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		return Batch{}, errors.New("producer not started")
	}
	samples, err := p.queue.DequeueMany(ctx, p.cfg.BatchSize)
	if perr := p.Err(); perr != nil {
		return Batch{}, perr
	}
	if err != nil {
		return Batch{}, err
	}
	if atomic.AddInt64(&p.batches, 1) == 1 && len(samples) > 0 {
		sampleBytes := size.Of(samples[0])
		limbs.Debugf("Shuffle buffer holds up to %d samples of about %s each (%s total)\n",
			p.cfg.Capacity, humanize.Bytes(uint64(sampleBytes)), humanize.Bytes(uint64(sampleBytes*p.cfg.Capacity)))
	}
	return newBatch(samples), nil
}

// Stats returns how many records were read and skipped, and batches handed out.
func (p *Producer) Stats() (read, skipped, batches int64) {
	return atomic.LoadInt64(&p.read), atomic.LoadInt64(&p.skipped), atomic.LoadInt64(&p.batches)
}

// Close stops the workers and waits for them to exit.
func (p *Producer) Close() error {
	p.mu.Lock()
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-p.done
	return nil
}
