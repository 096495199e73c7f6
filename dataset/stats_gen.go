package dataset

// NOTE: THIS FILE WAS PRODUCED BY THE
// MSGP CODE GENERATION TOOL (github.com/tinylib/msgp)
// DO NOT EDIT

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (z *Stats) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	// map header, size 5
	o = append(o, 0x85)
	o = msgp.AppendString(o, "version")
	o = msgp.AppendString(o, z.Version)
	o = msgp.AppendString(o, "build_id")
	o = msgp.AppendString(o, z.BuildID)
	o = msgp.AppendString(o, "partition")
	o = msgp.AppendString(o, z.Partition)
	o = msgp.AppendString(o, "max_array")
	o = msgp.AppendArrayHeader(o, uint32(len(z.MaxArray)))
	for xvk := range z.MaxArray {
		o = msgp.AppendFloat64(o, z.MaxArray[xvk])
	}
	o = msgp.AppendString(o, "ratio")
	o = msgp.AppendArrayHeader(o, 2)
	for bzg := range z.Ratio {
		o = msgp.AppendFloat64(o, z.Ratio[bzg])
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Stats) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	_ = field
	var isz uint32
	isz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for isz > 0 {
		isz--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "version":
			z.Version, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				return
			}
		case "build_id":
			z.BuildID, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				return
			}
		case "partition":
			z.Partition, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				return
			}
		case "max_array":
			var xsz uint32
			xsz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			if cap(z.MaxArray) >= int(xsz) {
				z.MaxArray = z.MaxArray[:xsz]
			} else {
				z.MaxArray = make([]float64, xsz)
			}
			for xvk := range z.MaxArray {
				z.MaxArray[xvk], bts, err = msgp.ReadFloat64Bytes(bts)
				if err != nil {
					return
				}
			}
		case "ratio":
			var asz uint32
			asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			if asz != 2 {
				err = msgp.ArrayError{Wanted: 2, Got: asz}
				return
			}
			for bzg := range z.Ratio {
				z.Ratio[bzg], bts, err = msgp.ReadFloat64Bytes(bts)
				if err != nil {
					return
				}
			}
		default:
			bts, err = msgp.Skip(bts)
			if err != nil {
				return
			}
		}
	}
	o = bts
	return
}

func (z *Stats) Msgsize() (s int) {
	s = 1 + 8 + msgp.StringPrefixSize + len(z.Version) + 9 + msgp.StringPrefixSize + len(z.BuildID) +
		10 + msgp.StringPrefixSize + len(z.Partition) + 10 + msgp.ArrayHeaderSize + (len(z.MaxArray) * (msgp.Float64Size)) +
		6 + msgp.ArrayHeaderSize + (2 * (msgp.Float64Size))
	return
}
