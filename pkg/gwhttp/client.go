// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gwhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rgwsync/gateway/pkg/gwerrs"
)

// Client calls a peer gateway's admin metadata endpoints (§6.2).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for a peer reachable at baseURL (e.g.
// "https://zone-b.example.com").
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gwerrs.Wrap(&Error, gwerrs.Transport)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return gwerrs.NotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return gwerrs.PermissionDenied
	case http.StatusConflict:
		return gwerrs.PreconditionFailed
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return gwerrs.Busy
	default:
		return Error.New("peer returned status %d for %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// DataLogNumShards implements GET /admin/log?type=data.
func (c *Client) DataLogNumShards(ctx context.Context) (int, error) {
	var out DataLogNumShardsResponse
	if err := c.get(ctx, "/admin/log", url.Values{"type": {"data"}}, &out); err != nil {
		return 0, err
	}
	return out.NumObjects, nil
}

// DataLogShardInfo implements GET /admin/log?type=data&id=<shard>&info.
func (c *Client) DataLogShardInfo(ctx context.Context, shard int) (DataLogShardInfoResponse, error) {
	var out DataLogShardInfoResponse
	q := url.Values{"type": {"data"}, "id": {fmt.Sprint(shard)}, "info": {"true"}}
	err := c.get(ctx, "/admin/log", q, &out)
	return out, err
}

// DataLogList implements
// GET /admin/log?type=data&id=<shard>&marker=<m>&extra-info=true.
func (c *Client) DataLogList(ctx context.Context, shard int, marker string) (DataLogListResponse, error) {
	var out DataLogListResponse
	q := url.Values{"type": {"data"}, "id": {fmt.Sprint(shard)}, "marker": {marker}, "extra-info": {"true"}}
	err := c.get(ctx, "/admin/log", q, &out)
	return out, err
}

// DataSyncStatus implements
// GET /admin/log?type=data&status&source-zone=<z>.
func (c *Client) DataSyncStatus(ctx context.Context, sourceZone string) (DataSyncStatusResponse, error) {
	var out DataSyncStatusResponse
	q := url.Values{"type": {"data"}, "status": {"true"}, "source-zone": {sourceZone}}
	err := c.get(ctx, "/admin/log", q, &out)
	return out, err
}

// BucketIndexInfo implements
// GET /admin/log?type=bucket-index&bucket-instance=<id>&info.
func (c *Client) BucketIndexInfo(ctx context.Context, bucketInstance string) (BucketIndexInfoResponse, error) {
	var out BucketIndexInfoResponse
	q := url.Values{"type": {"bucket-index"}, "bucket-instance": {bucketInstance}, "info": {"true"}}
	err := c.get(ctx, "/admin/log", q, &out)
	return out, err
}

// BucketIndexList implements
// GET /admin/log?type=bucket-index&bucket-instance=...&generation=<g>&format-ver=2&marker=<m>.
func (c *Client) BucketIndexList(ctx context.Context, bucketInstance string, gen uint64, marker string) (BucketIndexListResponse, error) {
	var out BucketIndexListResponse
	q := url.Values{
		"type":            {"bucket-index"},
		"bucket-instance":  {bucketInstance},
		"generation":      {fmt.Sprint(gen)},
		"format-ver":      {"2"},
		"marker":          {marker},
	}
	err := c.get(ctx, "/admin/log", q, &out)
	return out, err
}

// BucketInstanceList implements
// GET /admin/metadata/bucket.instance?max-entries=1000&marker=<m>.
func (c *Client) BucketInstanceList(ctx context.Context, maxEntries int, marker string) (BucketInstanceListResponse, error) {
	var out BucketInstanceListResponse
	q := url.Values{"max-entries": {fmt.Sprint(maxEntries)}, "marker": {marker}}
	err := c.get(ctx, "/admin/metadata/bucket.instance", q, &out)
	return out, err
}

// BucketInstanceGet implements
// GET /admin/metadata/bucket.instance?key=<tenant/name:bid>.
func (c *Client) BucketInstanceGet(ctx context.Context, key string) (BucketInstanceGetResponse, error) {
	var out BucketInstanceGetResponse
	q := url.Values{"key": {key}}
	err := c.get(ctx, "/admin/metadata/bucket.instance", q, &out)
	return out, err
}

// BucketGet implements GET /admin/metadata/bucket?key=<tenant/name>, the
// name-to-current-instance mapping the "bucket" metadata type (distinct
// from "bucket.instance") holds in RGW.
func (c *Client) BucketGet(ctx context.Context, key string) (BucketGetResponse, error) {
	var out BucketGetResponse
	q := url.Values{"key": {key}}
	err := c.get(ctx, "/admin/metadata/bucket", q, &out)
	return out, err
}

// ListVersions implements
// GET /<bucket>?versions&objs-container=true&key-marker=<k>&version-id-marker=<v>.
func (c *Client) ListVersions(ctx context.Context, bucket, keyMarker, versionIDMarker string) (VersionsListResponse, error) {
	var out VersionsListResponse
	q := url.Values{"versions": {""}, "objs-container": {"true"}, "key-marker": {keyMarker}, "version-id-marker": {versionIDMarker}}
	err := c.get(ctx, "/"+bucket, q, &out)
	return out, err
}

// GetObject implements GET /<bucket>/<key>?versionId=<instance>, returning
// the object's raw body — the data-plane half of replication, alongside
// this client's metadata-only admin calls.
func (c *Client) GetObject(ctx context.Context, bucket, key, instance string) ([]byte, error) {
	u := c.baseURL + "/" + bucket + "/" + key
	if instance != "" {
		u += "?versionId=" + url.QueryEscape(instance)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, gwerrs.Wrap(&Error, gwerrs.Transport)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, gwerrs.NotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, gwerrs.PermissionDenied
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, gwerrs.Busy
	default:
		return nil, Error.New("peer returned status %d for GetObject", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return body, nil
}
