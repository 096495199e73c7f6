/*
Package record reads and writes the binary record files that hold training samples.

Each record is a serialized tf.train.Example protobuf with the named features
"label", "image" and, optionally, "occlusion".  Float data is stored as raw
little-endian float32 bytes so that decoding reproduces the encoded values bit for
bit.  Records are framed on disk as

	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)

which is the TFRecord layout, and a whole file may additionally be wrapped in GZIP,
ZLIB or Snappy stream compression.  Files can be addressed by local path or by a
bucket URL (file://, gs://, s3://).
*/
package record
