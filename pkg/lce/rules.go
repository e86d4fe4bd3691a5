// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lce implements the Lifecycle Engine (LCE, §4.6): a sharded
// expired-object scanner that dispatches deletions across a bounded worker
// pool and persists per-bucket progress with cooperative lease renewal.
package lce

import (
	"sort"
	"strings"
	"time"

	"github.com/zeebo/errs"
)

// Error is the lce package's error class.
var Error = errs.Class("lce")

// Filter narrows a rule to objects whose key starts with Prefix and (if
// non-empty) carries every tag in Tags.
type Filter struct {
	Prefix string
	Tags   map[string]string
}

// Matches reports whether key/tags satisfy f.
func (f Filter) Matches(key string, tags map[string]string) bool {
	if f.Prefix != "" && !strings.HasPrefix(key, f.Prefix) {
		return false
	}
	for k, v := range f.Tags {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Rule is one lifecycle rule (§3 "Lifecycle rule").
type Rule struct {
	ID      string
	Enabled bool
	Filter  Filter

	// ExpirationDays and ExpirationDate are mutually exclusive; a zero
	// ExpirationDate means "use ExpirationDays" when ExpirationDays > 0.
	ExpirationDays int
	ExpirationDate time.Time

	NoncurrentExpirationDays int
	MultipartExpirationDays  int
	DeleteMarkerExpiration   bool
}

// HasCurrentExpiration reports whether the rule expires current versions,
// by day count or absolute date.
func (r Rule) HasCurrentExpiration() bool {
	return r.ExpirationDays > 0 || !r.ExpirationDate.IsZero()
}

// Policy is a bucket's full lifecycle configuration (§3 "Lifecycle rule").
type Policy struct {
	Rules []Rule
}

// matchingRules returns every enabled rule in p whose filter matches
// key/tags, ordered by rule ID for deterministic S3-header output.
func (p Policy) matchingRules(key string, tags map[string]string) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if !r.Enabled {
			continue
		}
		if !r.Filter.Matches(key, tags) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// prefixRuleMap groups a policy's enabled rules by filter prefix, the
// "prefix→rule multimap" bucket_lc_process builds before listing (§4.6).
type prefixRuleMap map[string][]Rule

func buildPrefixRuleMap(p Policy) prefixRuleMap {
	m := prefixRuleMap{}
	for _, r := range p.Rules {
		if !r.Enabled {
			continue
		}
		m[r.Filter.Prefix] = append(m[r.Filter.Prefix], r)
	}
	return m
}

// ObjHasExpired implements obj_has_expired(mtime, days): mtime plus days is
// no later than now.
func ObjHasExpired(now, mtime time.Time, days int) bool {
	if days <= 0 {
		return false
	}
	return !mtime.Add(time.Duration(days) * 24 * time.Hour).After(now)
}

// debugDay converts a "days" count into a duration, substituting
// debugInterval seconds for one day when debugInterval > 0 (§4.6 "Debug
// interval overrides mean 'any time, every N seconds'").
func debugDay(debugInterval time.Duration) time.Duration {
	if debugInterval > 0 {
		return debugInterval
	}
	return 24 * time.Hour
}

// objHasExpiredDebug is ObjHasExpired but honoring a debug interval
// override in place of the literal 24h day.
func objHasExpiredDebug(now, mtime time.Time, days int, debugInterval time.Duration) bool {
	if days <= 0 {
		return false
	}
	return !mtime.Add(time.Duration(days) * debugDay(debugInterval)).After(now)
}

// S3ExpirationHeader implements rgwlc_s3_expiration_header: the earliest
// expiration date across every enabled rule matching key/tags, formatted as
// the S3 `x-amz-expiration` header value. Returns "" if nothing matches.
func S3ExpirationHeader(now, mtime time.Time, key string, tags map[string]string, policy Policy) string {
	rules := policy.matchingRules(key, tags)
	var (
		best   time.Time
		ruleID string
		found  bool
	)
	for _, r := range rules {
		if !r.HasCurrentExpiration() {
			continue
		}
		expiry := r.ExpirationDate
		if expiry.IsZero() {
			expiry = mtime.Add(time.Duration(r.ExpirationDays) * 24 * time.Hour)
		}
		if !found || expiry.Before(best) {
			best, ruleID, found = expiry, r.ID, true
		}
	}
	if !found {
		return ""
	}
	return `expiry-date="` + best.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT") + `", rule-id="` + ruleID + `"`
}
