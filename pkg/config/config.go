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

// Package config builds a running index core's tunables from a
// jsonconfig.Obj, using the "RequiredString/OptionalInt/OptionalBool,
// then Validate" idiom sorted.KeyValue backends elsewhere in this
// ecosystem use to turn a JSON blob into a concrete store.
package config

import (
	"fmt"
	"time"

	"go4.org/jsonconfig"

	"indexcore.dev/pkg/agile"
	"indexcore.dev/pkg/blockcache"
	"indexcore.dev/pkg/directory"
	"indexcore.dev/pkg/kv"
	"indexcore.dev/pkg/kv/leveldbkv"
	"indexcore.dev/pkg/kv/memkv"
	"indexcore.dev/pkg/partition"
)

// Config is the fully resolved set of tunables for one index core
// instance, built from a jsonconfig.Obj by FromJSONConfig.
type Config struct {
	Store kv.Store

	Directory directory.Options
	Agile     agile.Options
	Partition partition.Options

	AutoMerge       bool
	AutoRepartition bool
}

// FromJSONConfig builds a Config from cfg, validating every key is
// recognized by calling cfg.Validate() as the final step, the same way
// sorted.KeyValue backends elsewhere in this ecosystem finish their own
// newFromConfig constructors.
//
// Recognized keys:
//
//	backend               "mem" or "leveldb" (required)
//	leveldbFile           path to the leveldb directory (required if backend is "leveldb")
//	blockSize             bytes per directory block (optional, default directory.DefaultBlockSize)
//	compression           "none", "snappy", or "zstd" (optional, default "none")
//	blockCacheBytes       shared block cache byte budget; 0 disables caching (optional)
//	lockWindowSeconds     dirlock staleness window in seconds (optional, default dirlock.DefaultWindow)
//	agile                 enable floating sub-transactions (optional, default false)
//	agileTimeQuotaSeconds (optional, default agile.DefaultTimeQuota)
//	agileSizeQuotaBytes   (optional, default agile.DefaultSizeQuota)
//	partitionHighWatermark   (optional, default partition.DefaultHighWatermark)
//	partitionRepartitionCount (optional, default partition.DefaultRepartitionCount)
//	autoMerge             run a merge pass in Maintainer.CommitHooks (optional, default false)
//	autoRepartition       run Rebalance in Maintainer.CommitHooks (optional, default false)
func FromJSONConfig(cfg jsonconfig.Obj) (*Config, error) {
	var out Config

	switch backend := cfg.RequiredString("backend"); backend {
	case "mem":
		out.Store = memkv.New()
	case "leveldb":
		file := cfg.RequiredString("leveldbFile")
		store, err := leveldbkv.Open(file)
		if err != nil {
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return nil, fmt.Errorf("config: open leveldb store at %q: %w", file, err)
		}
		out.Store = store
	case "":
		// RequiredString already recorded a missing-key error; fall
		// through to Validate below so the caller gets one report
		// naming every problem instead of just the first.
	default:
		return nil, fmt.Errorf("config: unknown backend %q", backend)
	}

	out.Directory.BlockSize = int32(cfg.OptionalInt("blockSize", int(directory.DefaultBlockSize)))
	out.Directory.Compression = directory.Algo(cfg.OptionalString("compression", string(directory.AlgoNone)))

	if n := cfg.OptionalInt("blockCacheBytes", 0); n > 0 {
		out.Directory.Cache = blockcache.New(int64(n))
	}
	if secs := cfg.OptionalInt("lockWindowSeconds", 0); secs > 0 {
		out.Directory.LockWindow = secondsToDuration(secs)
	}

	out.Agile.Agile = cfg.OptionalBool("agile", false)
	if secs := cfg.OptionalInt("agileTimeQuotaSeconds", 0); secs > 0 {
		out.Agile.TimeQuota = secondsToDuration(secs)
	}
	out.Agile.SizeQuota = int64(cfg.OptionalInt("agileSizeQuotaBytes", 0))

	out.Partition.HighWatermark = int64(cfg.OptionalInt("partitionHighWatermark", partition.DefaultHighWatermark))
	out.Partition.RepartitionCount = int64(cfg.OptionalInt("partitionRepartitionCount", partition.DefaultRepartitionCount))

	out.AutoMerge = cfg.OptionalBool("autoMerge", false)
	out.AutoRepartition = cfg.OptionalBool("autoRepartition", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}
