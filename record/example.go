package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/janelia-flyem/limbs/limbs"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feature names used in records.
const (
	LabelFeature     = "label"
	ImageFeature     = "image"
	OcclusionFeature = "occlusion"
)

// Field numbers of the tf.train.Example family of messages.
const (
	exampleFeaturesField protowire.Number = 1 // Example.features
	featuresMapField     protowire.Number = 1 // Features.feature
	mapKeyField          protowire.Number = 1
	mapValueField        protowire.Number = 2
	bytesListField       protowire.Number = 1 // Feature.bytes_list
	floatListField       protowire.Number = 2 // Feature.float_list
	int64ListField       protowire.Number = 3 // Feature.int64_list
	listValueField       protowire.Number = 1 // *List.value
)

// ParseError is returned when record bytes cannot be parsed or do not match the
// schema used to decode them.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("record parse error: %s: %v", e.Msg, e.Err)
	}
	return "record parse error: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// Label is either a float32 coordinate vector or an integer class id.
type Label struct {
	Values  []float32
	Class   int64
	IsClass bool
}

// FloatLabel returns a vector label.
func FloatLabel(values []float32) Label {
	return Label{Values: values}
}

// ClassLabel returns an integer class label.
func ClassLabel(class int64) Label {
	return Label{Class: class, IsClass: true}
}

// Example is one (image, label[, occlusion]) sample prior to encoding.
type Example struct {
	Image     []float32
	Label     Label
	Occlusion []float32 // nil when the record has no occlusion feature
}

// Float32Bytes returns the little-endian byte representation of data.
func Float32Bytes(data []float32) []byte {
	b := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// BytesFloat32 is the inverse of Float32Bytes.
func BytesFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, parseErrorf("%d bytes is not a whole number of float32 values", len(b))
	}
	data := make([]float32, len(b)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return data, nil
}

func appendBytesFeature(b []byte, name string, value []byte) []byte {
	var list []byte
	list = protowire.AppendTag(list, listValueField, protowire.BytesType)
	list = protowire.AppendBytes(list, value)

	var feature []byte
	feature = protowire.AppendTag(feature, bytesListField, protowire.BytesType)
	feature = protowire.AppendBytes(feature, list)
	return appendMapEntry(b, name, feature)
}

func appendInt64Feature(b []byte, name string, values ...int64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	var list []byte
	list = protowire.AppendTag(list, listValueField, protowire.BytesType)
	list = protowire.AppendBytes(list, packed)

	var feature []byte
	feature = protowire.AppendTag(feature, int64ListField, protowire.BytesType)
	feature = protowire.AppendBytes(feature, list)
	return appendMapEntry(b, name, feature)
}

func appendMapEntry(b []byte, name string, feature []byte) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, mapKeyField, protowire.BytesType)
	entry = protowire.AppendString(entry, name)
	entry = protowire.AppendTag(entry, mapValueField, protowire.BytesType)
	entry = protowire.AppendBytes(entry, feature)

	b = protowire.AppendTag(b, featuresMapField, protowire.BytesType)
	return protowire.AppendBytes(b, entry)
}

// Encode serializes an example.  Features are written in sorted key order so the
// same example always produces the same bytes.
func Encode(ex Example) ([]byte, error) {
	if len(ex.Image) == 0 {
		return nil, fmt.Errorf("cannot encode example without image data")
	}
	if !ex.Label.IsClass && len(ex.Label.Values) == 0 {
		return nil, fmt.Errorf("cannot encode example without label")
	}
	var features []byte
	features = appendBytesFeature(features, ImageFeature, Float32Bytes(ex.Image))
	if ex.Label.IsClass {
		features = appendInt64Feature(features, LabelFeature, ex.Label.Class)
	} else {
		features = appendBytesFeature(features, LabelFeature, Float32Bytes(ex.Label.Values))
	}
	if ex.Occlusion != nil {
		features = appendBytesFeature(features, OcclusionFeature, Float32Bytes(ex.Occlusion))
	}
	var b []byte
	b = protowire.AppendTag(b, exampleFeaturesField, protowire.BytesType)
	return protowire.AppendBytes(b, features), nil
}

// feature is a parsed tf.train.Feature.
type feature struct {
	bytes  [][]byte
	floats []float32
	ints   []int64
	kind   protowire.Number
}

// values returns the feature as float32 values.  A bytes feature must hold exactly
// one raw float32 buffer.
func (f feature) values(name string) ([]float32, error) {
	switch f.kind {
	case bytesListField:
		if len(f.bytes) != 1 {
			return nil, parseErrorf("feature %q holds %d byte strings, expected 1", name, len(f.bytes))
		}
		data, err := BytesFloat32(f.bytes[0])
		if err != nil {
			return nil, &ParseError{Msg: fmt.Sprintf("feature %q", name), Err: err}
		}
		return data, nil
	case floatListField:
		return f.floats, nil
	case int64ListField:
		data := make([]float32, len(f.ints))
		for i, v := range f.ints {
			data[i] = float32(v)
		}
		return data, nil
	default:
		return nil, parseErrorf("feature %q has no value list", name)
	}
}

// consumeMessage walks the fields of a message, calling fn for each.
func consumeMessage(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &ParseError{Msg: "bad tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		var value []byte
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return &ParseError{Msg: fmt.Sprintf("bad length-delimited field %d", num), Err: protowire.ParseError(m)}
			}
			value, n = v, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return &ParseError{Msg: fmt.Sprintf("bad field %d", num), Err: protowire.ParseError(n)}
			}
			value = b[:n]
		}
		if err := fn(num, typ, value); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func parseList(kind protowire.Number, b []byte, f *feature) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != listValueField {
			return nil
		}
		switch {
		case kind == bytesListField && typ == protowire.BytesType:
			f.bytes = append(f.bytes, value)
		case kind == floatListField && typ == protowire.BytesType:
			floats, err := BytesFloat32(value)
			if err != nil {
				return err
			}
			f.floats = append(f.floats, floats...)
		case kind == floatListField && typ == protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(value)
			f.floats = append(f.floats, math.Float32frombits(v))
		case kind == int64ListField && typ == protowire.BytesType:
			for len(value) > 0 {
				v, n := protowire.ConsumeVarint(value)
				if n < 0 {
					return &ParseError{Msg: "bad packed int64", Err: protowire.ParseError(n)}
				}
				f.ints = append(f.ints, int64(v))
				value = value[n:]
			}
		case kind == int64ListField && typ == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(value)
			f.ints = append(f.ints, int64(v))
		default:
			return parseErrorf("unexpected wire type %d in value list", typ)
		}
		return nil
	})
}

func parseFeature(b []byte) (feature, error) {
	var f feature
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case bytesListField, floatListField, int64ListField:
			if typ != protowire.BytesType {
				return parseErrorf("feature list %d has wire type %d", num, typ)
			}
			if f.kind != 0 && f.kind != num {
				return parseErrorf("feature holds more than one kind of list")
			}
			f.kind = num
			return parseList(num, value, &f)
		}
		return nil
	})
	return f, err
}

// parseExample returns the features of a serialized tf.train.Example.
func parseExample(b []byte) (map[string]feature, error) {
	features := make(map[string]feature)
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != exampleFeaturesField {
			return nil
		}
		return consumeMessage(value, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresMapField {
				return nil
			}
			var name string
			var f feature
			err := consumeMessage(entry, func(num protowire.Number, typ protowire.Type, value []byte) error {
				var err error
				switch num {
				case mapKeyField:
					name = string(value)
				case mapValueField:
					f, err = parseFeature(value)
				}
				return err
			})
			if err != nil {
				return err
			}
			features[name] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, parseErrorf("record holds no features")
	}
	return features, nil
}

// FeatureNames returns the sorted feature names stored in a serialized record.
func FeatureNames(b []byte) ([]string, error) {
	features, err := parseExample(b)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Schema fixes the expected layout of decoded records.
type Schema struct {
	LabelShape int  // number of label values
	ImageSize  int  // number of image values, the product of the target size
	Occlusions bool // records carry an occlusion feature

	// OcclusionShape is the number of occlusion values.  Zero means LabelShape/3.
	OcclusionShape int
}

// Decoded is a record decoded under a Schema.
type Decoded struct {
	Label     []float32
	Image     []float32
	Occlusion []float32
}

func (s Schema) occlusionShape() int {
	if s.OcclusionShape > 0 {
		return s.OcclusionShape
	}
	return s.LabelShape / limbs.DefaultNumDims
}

// Decode parses a serialized record.  Sizes that differ from the schema are
// *limbs.ShapeError; malformed bytes and feature sets that differ from the schema
// are *ParseError.
func (s Schema) Decode(b []byte) (Decoded, error) {
	features, err := parseExample(b)
	if err != nil {
		return Decoded{}, err
	}
	for name := range features {
		switch name {
		case LabelFeature, ImageFeature:
		case OcclusionFeature:
			if !s.Occlusions {
				return Decoded{}, parseErrorf("record has an %q feature but schema expects none", OcclusionFeature)
			}
		default:
			return Decoded{}, parseErrorf("unknown feature %q", name)
		}
	}

	var d Decoded
	d.Label, err = s.required(features, LabelFeature, s.LabelShape)
	if err != nil {
		return Decoded{}, err
	}
	d.Image, err = s.required(features, ImageFeature, s.ImageSize)
	if err != nil {
		return Decoded{}, err
	}
	if s.Occlusions {
		d.Occlusion, err = s.required(features, OcclusionFeature, s.occlusionShape())
		if err != nil {
			return Decoded{}, err
		}
	}
	return d, nil
}

func (s Schema) required(features map[string]feature, name string, size int) ([]float32, error) {
	f, found := features[name]
	if !found {
		return nil, parseErrorf("record is missing the %q feature", name)
	}
	values, err := f.values(name)
	if err != nil {
		return nil, err
	}
	if len(values) != size {
		return nil, limbs.NewShapeError("decode "+name, "got %d values, expected %d", len(values), size)
	}
	return values, nil
}
