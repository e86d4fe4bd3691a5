// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/lce"
)

func TestFilterMatches(t *testing.T) {
	f := lce.Filter{Prefix: "logs/", Tags: map[string]string{"env": "prod"}}
	require.True(t, f.Matches("logs/2026-01-01.txt", map[string]string{"env": "prod", "extra": "x"}))
	require.False(t, f.Matches("other/2026-01-01.txt", map[string]string{"env": "prod"}))
	require.False(t, f.Matches("logs/2026-01-01.txt", map[string]string{"env": "dev"}))
}

func TestObjHasExpired(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.True(t, lce.ObjHasExpired(now, now.Add(-31*24*time.Hour), 30))
	require.False(t, lce.ObjHasExpired(now, now.Add(-29*24*time.Hour), 30))
	require.False(t, lce.ObjHasExpired(now, now.Add(-31*24*time.Hour), 0))
}

func TestS3ExpirationHeaderPicksEarliestMatchingRule(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := mtime.Add(40 * 24 * time.Hour)
	policy := lce.Policy{Rules: []lce.Rule{
		{ID: "slow", Enabled: true, Filter: lce.Filter{Prefix: "a/"}, ExpirationDays: 90},
		{ID: "fast", Enabled: true, Filter: lce.Filter{Prefix: "a/"}, ExpirationDays: 30},
		{ID: "disabled", Enabled: false, Filter: lce.Filter{Prefix: "a/"}, ExpirationDays: 1},
	}}
	header := lce.S3ExpirationHeader(now, mtime, "a/object.txt", nil, policy)
	require.Contains(t, header, `rule-id="fast"`)
	require.Contains(t, header, "GMT")
}

func TestS3ExpirationHeaderEmptyWhenNoMatch(t *testing.T) {
	mtime := time.Now()
	policy := lce.Policy{Rules: []lce.Rule{
		{ID: "r1", Enabled: true, Filter: lce.Filter{Prefix: "other/"}, ExpirationDays: 30},
	}}
	require.Empty(t, lce.S3ExpirationHeader(time.Now(), mtime, "a/object.txt", nil, policy))
}
