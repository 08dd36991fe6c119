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

package leveldbkv

import (
	"path/filepath"
	"testing"

	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/kv/kvtest"
)

func TestConformance(t *testing.T) {
	n := 0
	kvtest.TestStore(t, func() kv.Store {
		n++
		dir := filepath.Join(t.TempDir(), "db")
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}
