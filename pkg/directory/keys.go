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

package directory

import "indexcore.dev/pkg/tuple"

// Key tags within one partition's file subtree:
//
//	<prefix> · "fileRef" · name       -> file reference
//	<prefix> · "block" · fileID · n   -> compressed block bytes
const (
	tagFileRef = "fileRef"
	tagBlock   = "block"
	tagNextID  = "nextFileId"
)

func nextIDKey(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{tagNextID})...)
}

func fileRefPrefix(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{tagFileRef})...)
}

func fileRefKey(prefix []byte, name string) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{tagFileRef, name})...)
}

func blockKey(prefix []byte, fileID uint64, blockNo uint64) []byte {
	return append(append([]byte(nil), prefix...), tuple.Pack(tuple.Tuple{tagBlock, int64(fileID), int64(blockNo)})...)
}

// nameFromFileRefKey extracts the file name from a key produced by
// fileRefKey, given the same prefix it was built with.
func nameFromFileRefKey(prefix, key []byte) (string, error) {
	suffix := key[len(prefix):]
	t, err := tuple.Unpack(suffix)
	if err != nil {
		return "", err
	}
	if len(t) != 2 {
		return "", tuple.ErrMalformed
	}
	name, ok := t[1].(string)
	if !ok {
		return "", tuple.ErrMalformed
	}
	return name, nil
}
