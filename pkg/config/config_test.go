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

package config

import (
	"testing"
	"time"

	"go4.org/jsonconfig"

	"indexcore.dev/pkg/directory"
)

func TestFromJSONConfigMemBackendDefaults(t *testing.T) {
	cfg, err := FromJSONConfig(jsonconfig.Obj{"backend": "mem"})
	if err != nil {
		t.Fatalf("FromJSONConfig: %v", err)
	}
	if cfg.Store == nil {
		t.Fatal("expected a non-nil Store for backend=mem")
	}
	if cfg.Directory.Compression != directory.AlgoNone {
		t.Fatalf("default compression = %q; want %q", cfg.Directory.Compression, directory.AlgoNone)
	}
	if cfg.Directory.BlockSize != directory.DefaultBlockSize {
		t.Fatalf("default block size = %d; want %d", cfg.Directory.BlockSize, directory.DefaultBlockSize)
	}
	if cfg.Agile.Agile {
		t.Fatal("agile should default to false")
	}
}

func TestFromJSONConfigOverridesTunables(t *testing.T) {
	cfg, err := FromJSONConfig(jsonconfig.Obj{
		"backend":                   "mem",
		"compression":               "zstd",
		"blockCacheBytes":           1 << 20,
		"lockWindowSeconds":         30,
		"agile":                     true,
		"partitionHighWatermark":    500,
		"partitionRepartitionCount": 50,
		"autoMerge":                 true,
		"autoRepartition":           true,
	})
	if err != nil {
		t.Fatalf("FromJSONConfig: %v", err)
	}
	if cfg.Directory.Compression != directory.Algo("zstd") {
		t.Fatalf("compression = %q; want zstd", cfg.Directory.Compression)
	}
	if cfg.Directory.Cache == nil {
		t.Fatal("expected a block cache to be configured")
	}
	if !cfg.Agile.Agile || !cfg.AutoMerge || !cfg.AutoRepartition {
		t.Fatal("expected agile/autoMerge/autoRepartition all true")
	}
	if cfg.Partition.HighWatermark != 500 || cfg.Partition.RepartitionCount != 50 {
		t.Fatalf("partition options = %+v; want 500/50", cfg.Partition)
	}
	if cfg.Directory.LockWindow != 30*time.Second {
		t.Fatalf("lock window = %v; want 30s", cfg.Directory.LockWindow)
	}
}

// TestFromJSONConfigLockWindowSecondsAloneDoesNotFailValidation guards
// against lockWindowSeconds being documented as recognized but never
// read: if FromJSONConfig stopped reading it, cfg.Validate would reject
// any config that sets it as an unrecognized key.
func TestFromJSONConfigLockWindowSecondsAloneDoesNotFailValidation(t *testing.T) {
	cfg, err := FromJSONConfig(jsonconfig.Obj{"backend": "mem", "lockWindowSeconds": 5})
	if err != nil {
		t.Fatalf("FromJSONConfig with lockWindowSeconds: %v", err)
	}
	if cfg.Directory.LockWindow != 5*time.Second {
		t.Fatalf("lock window = %v; want 5s", cfg.Directory.LockWindow)
	}
}

func TestFromJSONConfigMissingBackendFails(t *testing.T) {
	if _, err := FromJSONConfig(jsonconfig.Obj{}); err == nil {
		t.Fatal("expected an error for a config with no backend key")
	}
}

func TestFromJSONConfigUnknownKeyFails(t *testing.T) {
	if _, err := FromJSONConfig(jsonconfig.Obj{"backend": "mem", "bogus": true}); err == nil {
		t.Fatal("expected an error for an unrecognized config key")
	}
}
