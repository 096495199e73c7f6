/*
Package pipeline turns a stream of serialized records into shuffled batches of
decoded, augmented and normalized samples.

A Decoder is a pure per-record transform.  A Producer fans one ordered record
stream out to several decode workers, each with its own Decoder, and collects
their samples in a ShuffleQueue from which batches are drawn:

	src := record.NewFileSource("train.tfrecords")
	p, err := pipeline.NewProducer(src, decodeCfg, pipeline.DefaultProducerConfig(32))
	if err != nil {
		...
	}
	if err := p.Start(ctx); err != nil {
		...
	}
	defer p.Close()
	for {
		batch, err := p.Next()
		if err == limbs.ErrEndOfStream {
			break
		}
		...
	}
*/
package pipeline
