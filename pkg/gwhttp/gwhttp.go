// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gwhttp implements the client side of the peer-to-peer metadata
// HTTP contract (§6.2): a client used by the Incremental Data Sync Engine
// to read a remote zone's data-change log, bucket-index log, and
// bucket/object metadata, and the response types those endpoints return.
// It contains no server-side handlers.
package gwhttp

import (
	"time"

	"github.com/zeebo/errs"
)

// Error is the gwhttp package's error class.
var Error = errs.Class("gwhttp")

// DataLogEntry mirrors one entry of a data-change log listing (§6.2).
type DataLogEntry struct {
	LogID        string    `json:"log_id"`
	LogTimestamp time.Time `json:"log_timestamp"`
	Entry        struct {
		EntityType int       `json:"entity_type"`
		Key        string    `json:"key"`
		Timestamp  time.Time `json:"timestamp"`
	} `json:"entry"`
}

// DataLogNumShardsResponse answers GET /admin/log?type=data.
type DataLogNumShardsResponse struct {
	NumObjects int `json:"num_objects"`
}

// DataLogShardInfoResponse answers GET /admin/log?type=data&id=<shard>&info.
type DataLogShardInfoResponse struct {
	Marker     string    `json:"marker"`
	LastUpdate time.Time `json:"last_update"`
}

// DataLogListResponse answers
// GET /admin/log?type=data&id=<shard>&marker=<m>&extra-info=true.
type DataLogListResponse struct {
	Marker    string         `json:"marker"`
	Truncated bool           `json:"truncated"`
	Entries   []DataLogEntry `json:"entries"`
}

// NextLog describes a generation transition signaled at the tail of a
// bucket-index log page.
type NextLog struct {
	Generation uint64 `json:"generation"`
	NumShards  int    `json:"num_shards"`
}

// BucketIndexInfoResponse answers
// GET /admin/log?type=bucket-index&bucket-instance=...&info.
type BucketIndexInfoResponse struct {
	MaxMarker   string `json:"max_marker"`
	OldestGen   uint64 `json:"oldest_gen"`
	LatestGen   uint64 `json:"latest_gen"`
	SyncStopped bool   `json:"syncstopped"`
}

// BilogEntry is one bucket-index (bilog) entry.
type BilogEntry struct {
	LogID     string    `json:"log_id"`
	Object    string    `json:"object"`
	Instance  string    `json:"instance"`
	Op        BilogOp   `json:"op"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	OLHEpoch  uint64    `json:"olh_epoch,omitempty"`
	ZoneTrace []string  `json:"zone_trace,omitempty"`
}

// BilogOp enumerates the bucket-index log operation kinds named in §4.4.8-9.
type BilogOp string

// Bilog operation kinds.
const (
	BilogAdd            BilogOp = "ADD"
	BilogDel            BilogOp = "DEL"
	BilogLinkOLH         BilogOp = "LINK_OLH"
	BilogUnlinkInstance   BilogOp = "UNLINK_INSTANCE"
	BilogLinkOLHDeleteMarker BilogOp = "LINK_OLH_DM"
	BilogSyncStop        BilogOp = "SYNC_STOP"
	BilogSyncResync       BilogOp = "RESYNC"
	BilogCancel          BilogOp = "CANCEL"
)

// BucketIndexListResponse answers
// GET /admin/log?type=bucket-index&...&generation=<g>&marker=<m>.
type BucketIndexListResponse struct {
	Entries   []BilogEntry `json:"entries"`
	Truncated bool         `json:"truncated"`
	NextLog   *NextLog     `json:"next_log,omitempty"`
}

// SyncMarkerState is the per-shard sync-marker state discriminator (§4.4.1).
type SyncMarkerState int

// Sync-marker states.
const (
	SyncMarkerFullSync SyncMarkerState = iota
	SyncMarkerIncrementalSync
)

// RemoteSyncMarker is one shard's entry within a full rgw_data_sync_status
// response.
type RemoteSyncMarker struct {
	State          SyncMarkerState `json:"state"`
	Marker         string          `json:"marker"`
	NextStepMarker string          `json:"next_step_marker"`
	Timestamp      time.Time       `json:"timestamp"`
}

// DataSyncStatusResponse answers
// GET /admin/log?type=data&status&source-zone=<z>.
type DataSyncStatusResponse struct {
	NumShards int                `json:"num_shards"`
	Markers   []RemoteSyncMarker `json:"sync_markers"`
}

// BucketInstanceListResponse answers
// GET /admin/metadata/bucket.instance?max-entries=...&marker=<m>.
type BucketInstanceListResponse struct {
	Marker    string   `json:"marker"`
	Truncated bool     `json:"truncated"`
	Keys      []string `json:"keys"`
	Count     int      `json:"count"`
}

// BucketInfo is the subset of remote bucket metadata IDSE needs to drive
// sync decisions.
type BucketInfo struct {
	Tenant    string `json:"tenant"`
	Name      string `json:"name"`
	BucketID  string `json:"bucket_id"`
	NumShards int    `json:"num_shards"`
	Versioned bool   `json:"versioned"`
}

// BucketInstanceGetResponse answers
// GET /admin/metadata/bucket.instance?key=<tenant/name:bid>.
type BucketInstanceGetResponse struct {
	Key  string `json:"key"`
	Ver  uint64 `json:"ver"`
	Mtime time.Time `json:"mtime"`
	Data struct {
		BucketInfo BucketInfo        `json:"bucket_info"`
		Attrs      map[string]string `json:"attrs"`
	} `json:"data"`
}

// BucketGetResponse answers GET /admin/metadata/bucket?key=<tenant/name>:
// the "bucket" metadata type maps a bucket name to its current instance's
// bucket_id, independent of any "bucket.instance" generation-shard data.
type BucketGetResponse struct {
	Key  string `json:"key"`
	Ver  uint64 `json:"ver"`
	Data struct {
		Bucket struct {
			Name     string `json:"name"`
			Marker   string `json:"marker"`
			BucketID string `json:"bucket_id"`
		} `json:"bucket"`
	} `json:"data"`
}

// ObjectOwner identifies the owner of a listed object version.
type ObjectOwner struct {
	ID          string `json:"ID"`
	DisplayName string `json:"DisplayName"`
}

// ObjectVersionEntry is one entry of a bucket versions listing.
type ObjectVersionEntry struct {
	IsDeleteMarker bool        `json:"IsDeleteMarker"`
	Key            string      `json:"Key"`
	VersionID      string      `json:"VersionId"`
	IsLatest       bool        `json:"IsLatest"`
	Mtime          time.Time   `json:"RgwxMtime"`
	ETag           string      `json:"ETag"`
	Size           int64       `json:"Size"`
	StorageClass   string      `json:"StorageClass"`
	Owner          ObjectOwner `json:"Owner"`
	VersionedEpoch uint64      `json:"VersionedEpoch"`
	Tag            string      `json:"RgwxTag"`
}

// VersionsListResponse answers GET /<bucket>?versions&objs-container=true&....
type VersionsListResponse struct {
	Name             string               `json:"Name"`
	Prefix           string               `json:"Prefix"`
	KeyMarker        string               `json:"KeyMarker"`
	VersionIDMarker  string               `json:"VersionIdMarker"`
	MaxKeys          int                  `json:"MaxKeys"`
	IsTruncated      bool                 `json:"IsTruncated"`
	Entries          []ObjectVersionEntry `json:"Entries"`
}
