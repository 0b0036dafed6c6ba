// Package storage provides the object cache that keeps shards partly in
// memory and partly on disk.
//
// The main primative is the Cache, which holds objects under a soft byte
// budget and spills the least recently used ones to a Store. A FileStore
// writes each object as a single, optionally snappy-compressed, data file
// next to a bloom filter of its keys.
//
// # Disk Layout
//
// A FileStore directory has the following general structure:
//
//	path/to/set/
//	├── _meta.json
//	├── {{ SHARD_ID }}.data
//	├── {{ SHARD_ID }}.bloom
//
// Where in the above, SHARD_ID is the ID of the shard, which is a UUID.
// There is one data file per persisted shard, and a bloom filter file for
// every shard whose data file is current. The meta file belongs to the
// partition manager and describes how the shards fit together.
//
// Done
package storage
