/*
Copyright 2024 The Indexcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storedfields

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encode serializes rec as a length-delimited sequence of fields,
// preserving field order exactly so a decode-then-reencode round trip
// is byte-identical.
func encode(rec Record) []byte {
	var buf []byte
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(rec.Fields)))
	buf = append(buf, tmp[:4]...)
	for _, f := range rec.Fields {
		buf = append(buf, byte(f.Kind))
		buf = appendLenPrefixed(buf, []byte(f.Name))
		switch f.Kind {
		case KindInt32:
			binary.BigEndian.PutUint32(tmp[:4], uint32(f.Int32Val))
			buf = append(buf, tmp[:4]...)
		case KindInt64:
			binary.BigEndian.PutUint64(tmp[:8], uint64(f.Int64Val))
			buf = append(buf, tmp[:8]...)
		case KindFloat32:
			binary.BigEndian.PutUint32(tmp[:4], math.Float32bits(f.Float32Val))
			buf = append(buf, tmp[:4]...)
		case KindFloat64:
			binary.BigEndian.PutUint64(tmp[:8], math.Float64bits(f.Float64Val))
			buf = append(buf, tmp[:8]...)
		case KindBytes:
			buf = appendLenPrefixed(buf, f.BytesVal)
		case KindString:
			buf = appendLenPrefixed(buf, []byte(f.StringVal))
		}
	}
	return buf
}

func appendLenPrefixed(buf, v []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(v)))
	buf = append(buf, tmp[:]...)
	return append(buf, v...)
}

func decode(b []byte) (Record, error) {
	if len(b) < 4 {
		return Record{}, fmt.Errorf("storedfields: truncated record header")
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	fields := make([]Field, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 1 {
			return Record{}, fmt.Errorf("storedfields: truncated field %d", i)
		}
		kind := Kind(b[0])
		b = b[1:]
		name, rest, err := readLenPrefixed(b)
		if err != nil {
			return Record{}, fmt.Errorf("storedfields: field %d name: %w", i, err)
		}
		b = rest
		f := Field{Name: string(name), Kind: kind}
		switch kind {
		case KindInt32:
			if len(b) < 4 {
				return Record{}, fmt.Errorf("storedfields: truncated int32 field %q", f.Name)
			}
			f.Int32Val = int32(binary.BigEndian.Uint32(b[:4]))
			b = b[4:]
		case KindInt64:
			if len(b) < 8 {
				return Record{}, fmt.Errorf("storedfields: truncated int64 field %q", f.Name)
			}
			f.Int64Val = int64(binary.BigEndian.Uint64(b[:8]))
			b = b[8:]
		case KindFloat32:
			if len(b) < 4 {
				return Record{}, fmt.Errorf("storedfields: truncated float32 field %q", f.Name)
			}
			f.Float32Val = math.Float32frombits(binary.BigEndian.Uint32(b[:4]))
			b = b[4:]
		case KindFloat64:
			if len(b) < 8 {
				return Record{}, fmt.Errorf("storedfields: truncated float64 field %q", f.Name)
			}
			f.Float64Val = math.Float64frombits(binary.BigEndian.Uint64(b[:8]))
			b = b[8:]
		case KindBytes:
			v, rest, err := readLenPrefixed(b)
			if err != nil {
				return Record{}, fmt.Errorf("storedfields: bytes field %q: %w", f.Name, err)
			}
			f.BytesVal = v
			b = rest
		case KindString:
			v, rest, err := readLenPrefixed(b)
			if err != nil {
				return Record{}, fmt.Errorf("storedfields: string field %q: %w", f.Name, err)
			}
			f.StringVal = string(v)
			b = rest
		default:
			return Record{}, fmt.Errorf("storedfields: unknown field kind %d for %q", kind, f.Name)
		}
		fields = append(fields, f)
	}
	return Record{Fields: fields}, nil
}

func readLenPrefixed(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated payload: want %d bytes, have %d", n, len(b))
	}
	return b[:n], b[n:], nil
}
