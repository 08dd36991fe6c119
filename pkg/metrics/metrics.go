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

// Package metrics holds the prometheus collectors for this module's
// observable events: stored-fields waits and writes, agile commit quota
// triggers, directory lock wait times, and partition rebalance cost.
// They are registered exactly once via sync.Once, the same pattern
// buildbarn-bb-storage's partitioningBlockAllocatorPrometheusMetrics.Do(...)
// uses to register its block-allocator counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	WaitGetStoredFields = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexcore",
		Name:      "wait_get_stored_fields_seconds",
		Help:      "Time spent waiting on a stored-fields fetch (WAIT_LUCENE_GET_STORED_FIELDS).",
	})
	WriteStoredFieldsBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexcore",
		Name:      "write_stored_fields_bytes_total",
		Help:      "Bytes written to stored-fields records (LUCENE_WRITE_STORED_FIELDS).",
	})
	DeleteStoredFields = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexcore",
		Name:      "delete_stored_fields_total",
		Help:      "Stored-fields segment deletions (LUCENE_DELETE_STORED_FIELDS).",
	})
	AgileCommitsSizeQuota = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexcore",
		Name:      "agile_commits_size_quota_total",
		Help:      "Agile sub-transaction commits triggered by the size quota (LUCENE_AGILE_COMMITS_SIZE_QUOTA).",
	})
	AgileCommitsTimeQuota = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "indexcore",
		Name:      "agile_commits_time_quota_total",
		Help:      "Agile sub-transaction commits triggered by the time quota (LUCENE_AGILE_COMMITS_TIME_QUOTA).",
	})
	WaitFileLockSet = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexcore",
		Name:      "wait_file_lock_set_seconds",
		Help:      "Time spent waiting to set the directory lock cell (WAIT_LUCENE_FILE_LOCK_SET).",
	})
	WaitFileLockClear = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexcore",
		Name:      "wait_file_lock_clear_seconds",
		Help:      "Time spent waiting to clear the directory lock cell (WAIT_LUCENE_FILE_LOCK_CLEAR).",
	})
	RebalancePartitionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexcore",
		Name:      "rebalance_partition_seconds",
		Help:      "Time taken by a partition rebalance pass (LUCENE_REBALANCE_PARTITION).",
	})
	RebalancePartitionDocs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexcore",
		Name:      "rebalance_partition_docs",
		Help:      "Number of documents moved by a partition rebalance pass (LUCENE_REBALANCE_PARTITION_DOCS).",
	})
)

// Register registers every collector in this package with the default
// prometheus registry. It is safe to call from multiple packages' init
// paths; only the first call has any effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WaitGetStoredFields,
			WriteStoredFieldsBytes,
			DeleteStoredFields,
			AgileCommitsSizeQuota,
			AgileCommitsTimeQuota,
			WaitFileLockSet,
			WaitFileLockClear,
			RebalancePartitionSeconds,
			RebalancePartitionDocs,
		)
	})
}

func init() {
	Register()
}
