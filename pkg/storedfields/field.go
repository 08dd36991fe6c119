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

// Kind identifies a Field's value type. Once a field name has been
// written with a given Kind in a segment, every later doc in that
// segment must use the same Kind for that name — numeric widening
// (writing an int32 field as int64 later) is rejected by Writer.Put.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindBytes
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Field is one named, typed value in a document's stored-fields record.
type Field struct {
	Name string
	Kind Kind

	Int32Val   int32
	Int64Val   int64
	Float32Val float32
	Float64Val float64
	BytesVal   []byte
	StringVal  string
}

func Int32Field(name string, v int32) Field   { return Field{Name: name, Kind: KindInt32, Int32Val: v} }
func Int64Field(name string, v int64) Field   { return Field{Name: name, Kind: KindInt64, Int64Val: v} }
func Float32Field(name string, v float32) Field {
	return Field{Name: name, Kind: KindFloat32, Float32Val: v}
}
func Float64Field(name string, v float64) Field {
	return Field{Name: name, Kind: KindFloat64, Float64Val: v}
}
func BytesField(name string, v []byte) Field  { return Field{Name: name, Kind: KindBytes, BytesVal: v} }
func StringField(name string, v string) Field { return Field{Name: name, Kind: KindString, StringVal: v} }

// Record is a document's stored fields, in the order they were added.
type Record struct {
	Fields []Field
}
