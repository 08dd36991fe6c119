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

package tuple

import (
	"bytes"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []Tuple{
		{},
		{"hello"},
		{[]byte("world")},
		{int64(0)},
		{int64(-1)},
		{int64(1)},
		{int64(-1000000)},
		{int64(1000000)},
		{"a", int64(5), []byte{0x00, 0x01}, 3.14},
		{Tuple{"g", int64(1)}, int64(2)},
	}
	for _, c := range cases {
		packed := Pack(c)
		got, err := Unpack(packed)
		if err != nil {
			t.Fatalf("Unpack(%v): %v", c, err)
		}
		if !reflect.DeepEqual(normalize(got), normalize(c)) {
			t.Errorf("round trip mismatch: in=%v out=%v", c, got)
		}
	}
}

// normalize widens all integer element types to int64 for comparison,
// since Unpack always yields int64.
func normalize(t Tuple) Tuple {
	out := make(Tuple, len(t))
	for i, el := range t {
		switch v := el.(type) {
		case int:
			out[i] = int64(v)
		case int32:
			out[i] = int64(v)
		case Tuple:
			out[i] = normalize(v)
		default:
			out[i] = v
		}
	}
	return out
}

func TestIntOrderPreserved(t *testing.T) {
	ints := []int64{
		-1 << 40, -1000000, -256, -255, -1, 0, 1, 255, 256, 1000000, 1 << 40,
	}
	sorted := append([]int64(nil), ints...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	packed := make([][]byte, len(ints))
	for i, v := range ints {
		packed[i] = Pack(Tuple{v})
	}
	sortedPacked := make([][]byte, len(sorted))
	for i, v := range sorted {
		sortedPacked[i] = Pack(Tuple{v})
	}
	cp := append([][]byte(nil), packed...)
	sort.Slice(cp, func(i, j int) bool { return bytes.Compare(cp[i], cp[j]) < 0 })
	for i := range cp {
		if !bytes.Equal(cp[i], sortedPacked[i]) {
			t.Fatalf("byte order does not match integer order at index %d", i)
		}
	}
}

func TestIntOrderRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		a := r.Int63() - (1 << 62)
		b := r.Int63() - (1 << 62)
		pa, pb := Pack(Tuple{a}), Pack(Tuple{b})
		wantLess := a < b
		gotLess := bytes.Compare(pa, pb) < 0
		if a != b && wantLess != gotLess {
			t.Fatalf("order mismatch for a=%d b=%d", a, b)
		}
	}
}

func TestStringOrderPreserved(t *testing.T) {
	strs := []string{"", "a", "aa", "ab", "b", "ba"}
	for i := 0; i < len(strs)-1; i++ {
		p1 := Pack(Tuple{strs[i]})
		p2 := Pack(Tuple{strs[i+1]})
		if bytes.Compare(p1, p2) >= 0 {
			t.Fatalf("expected %q < %q in packed form", strs[i], strs[i+1])
		}
	}
}

func TestConcatPrefixScan(t *testing.T) {
	prefix := Tuple{"idx", int64(1)}
	a := Concat(prefix, Tuple{int64(1)})
	b := Concat(prefix, Tuple{int64(2)})
	end := Strinc(Pack(prefix))
	if bytes.Compare(a, Pack(prefix)) < 0 || bytes.Compare(a, end) >= 0 {
		t.Fatalf("key a not within prefix range")
	}
	if bytes.Compare(b, Pack(prefix)) < 0 || bytes.Compare(b, end) >= 0 {
		t.Fatalf("key b not within prefix range")
	}
}

func TestMalformedUnpack(t *testing.T) {
	if _, err := Unpack([]byte{tagBytes, 'a'}); err == nil {
		t.Fatal("expected error for truncated bytes element")
	}
}
