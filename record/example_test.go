package record

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/janelia-flyem/limbs/limbs"
)

func randomFloats(rng *rand.Rand, n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()*2000 - 1000
	}
	return data
}

func sameBits(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

func TestExampleRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	image := randomFloats(rng, 4*4*2)
	image[3] = float32(math.NaN())
	image[5] = float32(math.Inf(-1))
	image[6] = float32(math.Copysign(0, -1))
	label := randomFloats(rng, 6)
	occlusion := []float32{0, 1}

	tests := []struct {
		name      string
		ex        Example
		schema    Schema
		occlusion bool
	}{
		{"no occlusion", Example{Image: image, Label: FloatLabel(label)}, Schema{LabelShape: 6, ImageSize: 32}, false},
		{"occlusion", Example{Image: image, Label: FloatLabel(label), Occlusion: occlusion}, Schema{LabelShape: 6, ImageSize: 32, Occlusions: true}, true},
	}
	for _, tc := range tests {
		b, err := Encode(tc.ex)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		d, err := tc.schema.Decode(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if !sameBits(d.Image, image) {
			t.Errorf("%s: image not restored bit-exact", tc.name)
		}
		if !sameBits(d.Label, label) {
			t.Errorf("%s: label not restored bit-exact: %v vs %v", tc.name, d.Label, label)
		}
		if tc.occlusion && !sameBits(d.Occlusion, occlusion) {
			t.Errorf("%s: occlusion not restored: %v", tc.name, d.Occlusion)
		}
		if !tc.occlusion && d.Occlusion != nil {
			t.Errorf("%s: expected no occlusion, got %v", tc.name, d.Occlusion)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	ex := Example{Image: []float32{1, 2, 3, 4}, Label: FloatLabel([]float32{5, 6, 7})}
	a, _ := Encode(ex)
	b, _ := Encode(ex)
	if string(a) != string(b) {
		t.Fatalf("encoding the same example twice gave different bytes")
	}
	names, err := FeatureNames(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != ImageFeature || names[1] != LabelFeature {
		t.Errorf("unexpected features %v", names)
	}
}

func TestClassLabel(t *testing.T) {
	b, err := Encode(Example{Image: []float32{0.5, 0.25}, Label: ClassLabel(3)})
	if err != nil {
		t.Fatal(err)
	}
	d, err := Schema{LabelShape: 1, ImageSize: 2}.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Label) != 1 || d.Label[0] != 3 {
		t.Errorf("expected class label 3, got %v", d.Label)
	}
}

func TestSchemaMismatch(t *testing.T) {
	with, _ := Encode(Example{Image: []float32{1, 2, 3, 4}, Label: FloatLabel([]float32{1, 2, 3}), Occlusion: []float32{1}})
	without, _ := Encode(Example{Image: []float32{1, 2, 3, 4}, Label: FloatLabel([]float32{1, 2, 3})})

	var perr *ParseError
	_, err := Schema{LabelShape: 3, ImageSize: 4}.Decode(with)
	if !errors.As(err, &perr) {
		t.Errorf("decoding occluded record without occlusion schema: expected ParseError, got %v", err)
	}
	_, err = Schema{LabelShape: 3, ImageSize: 4, Occlusions: true}.Decode(without)
	if !errors.As(err, &perr) {
		t.Errorf("decoding plain record with occlusion schema: expected ParseError, got %v", err)
	}
}

func TestSizeContract(t *testing.T) {
	b, _ := Encode(Example{Image: []float32{1, 2, 3, 4}, Label: FloatLabel([]float32{1, 2, 3, 4, 5, 6})})
	tests := []Schema{
		{LabelShape: 3, ImageSize: 4},
		{LabelShape: 6, ImageSize: 5},
		{LabelShape: 6, ImageSize: 3},
	}
	for _, s := range tests {
		if _, err := s.Decode(b); !limbs.IsShapeError(err) {
			t.Errorf("schema %+v: expected shape error, got %v", s, err)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	var perr *ParseError
	for _, b := range [][]byte{nil, {0xff}, {0x0a, 0x05, 0x01}} {
		if _, err := (Schema{LabelShape: 3, ImageSize: 4}).Decode(b); !errors.As(err, &perr) {
			t.Errorf("decoding %x: expected ParseError, got %v", b, err)
		}
	}
}
