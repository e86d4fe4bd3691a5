// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rgwsync/gateway/private/gwlog"
	"github.com/rgwsync/gateway/private/sync2"
)

// DefaultMaxWorkers is rgw_lc_max_wp_worker's default (§5 "LCE ... fixed
// maximum concurrency").
const DefaultMaxWorkers = 3

// listPageSize mirrors §4.6's "list objects ... in pages of 1000".
const listPageSize = 1000

// Processor runs bucket_lc_process for one bucket (§4.6).
type Processor struct {
	lister        ObjectLister
	deleter       ObjectDeleter
	maxWorkers    int
	debugInterval time.Duration
	log           *zap.Logger
}

// NewProcessor returns a processor dispatching deletions across at most
// maxWorkers concurrent workers (<= 0 uses DefaultMaxWorkers). debugInterval,
// when > 0, substitutes for the literal 24h day throughout this processor's
// expiration math, the same override NextWakeup honors for scheduling
// (§4.6 "Debug interval overrides mean 'any time, every N seconds'").
func NewProcessor(lister ObjectLister, deleter ObjectDeleter, maxWorkers int, debugInterval time.Duration, log *zap.Logger) *Processor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Processor{lister: lister, deleter: deleter, maxWorkers: maxWorkers, debugInterval: debugInterval, log: log}
}

// Process runs bucket_lc_process for bucket against policy, stopping at
// stopAt (§4.6's "stop_at deadline check ... evaluated at each prefix
// transition and at worker dispatch").
func (p *Processor) Process(ctx context.Context, bucket string, policy Policy, stopAt time.Time) error {
	rules := buildPrefixRuleMap(policy)
	if len(rules) == 0 {
		return nil
	}

	limiter := sync2.NewLimiter(p.maxWorkers)

	for prefix, prefixRules := range rules {
		if pastDeadline(stopAt) {
			break
		}
		anyVersioned := false
		for _, r := range prefixRules {
			if r.NoncurrentExpirationDays > 0 || r.DeleteMarkerExpiration {
				anyVersioned = true
			}
		}
		var err error
		if anyVersioned {
			err = p.processVersioned(ctx, bucket, prefix, prefixRules, stopAt, limiter)
		} else {
			err = p.processNonVersioned(ctx, bucket, prefix, prefixRules, stopAt, limiter)
		}
		if err != nil {
			_ = limiter.Wait()
			return err
		}
	}

	if err := p.processMultipart(ctx, bucket, rules, stopAt, limiter); err != nil {
		_ = limiter.Wait()
		return err
	}

	return limiter.Wait()
}

func pastDeadline(stopAt time.Time) bool {
	return !stopAt.IsZero() && !time.Now().Before(stopAt)
}

// processNonVersioned implements §4.6's "Non-versioned path".
func (p *Processor) processNonVersioned(ctx context.Context, bucket, prefix string, rules []Rule, stopAt time.Time, limiter *sync2.Limiter) error {
	marker := ""
	for {
		if pastDeadline(stopAt) {
			return nil
		}
		entries, next, truncated, err := p.lister.ListObjects(ctx, bucket, prefix, marker, listPageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if isNamespaced(e.Key) {
				continue
			}
			entry := e
			if pastDeadline(stopAt) {
				return nil
			}
			limiter.Go(ctx, func() error {
				return p.expireNonVersioned(ctx, bucket, entry, rules)
			})
		}
		if !truncated {
			return nil
		}
		marker = next
	}
}

func (p *Processor) expireNonVersioned(ctx context.Context, bucket string, entry ObjectEntry, rules []Rule) error {
	fresh, err := p.deleter.StatObject(ctx, bucket, entry.Key, entry.Instance)
	if err != nil {
		return nil // object vanished since listing: nothing to do
	}
	for _, r := range rules {
		if !r.Filter.Matches(entry.Key, fresh.Tags) {
			continue
		}
		if !p.expired(r, fresh.MTime) {
			continue
		}
		recheck, err := p.deleter.StatObject(ctx, bucket, entry.Key, entry.Instance)
		if err != nil || !recheck.MTime.Equal(fresh.MTime) {
			return nil // changed under us: skip this pass
		}
		if err := p.deleter.DeleteObject(ctx, bucket, entry.Key, entry.Instance, true); err != nil {
			if p.log != nil {
				p.log.Warn("lce: delete failed", gwlog.Bucket("", bucket), zap.String("key", entry.Key), zap.Error(err))
			}
			return err
		}
		return nil
	}
	return nil
}

func (p *Processor) expired(r Rule, mtime time.Time) bool {
	if !r.ExpirationDate.IsZero() {
		return !time.Now().Before(r.ExpirationDate)
	}
	return objHasExpiredDebug(time.Now(), mtime, r.ExpirationDays, p.debugInterval)
}

// processVersioned implements §4.6's "Versioned path". Versions of one key
// arrive newest-first, so the entry immediately preceding a non-current
// version in the listing is the version that superseded it; that
// predecessor's mtime is the reference noncur_expiration is evaluated
// against (§4.6: "the next-older version's mtime, which is the current
// entry's mtime minus one in the listing order").
func (p *Processor) processVersioned(ctx context.Context, bucket, prefix string, rules []Rule, stopAt time.Time, limiter *sync2.Limiter) error {
	marker := ""
	var prevMTime *time.Time
	for {
		if pastDeadline(stopAt) {
			return nil
		}
		entries, next, truncated, err := p.lister.ListVersions(ctx, bucket, prefix, marker, listPageSize)
		if err != nil {
			return err
		}
		for i, e := range entries {
			if isNamespaced(e.Key) {
				continue
			}
			entry := e
			if pastDeadline(stopAt) {
				return nil
			}
			if entry.IsCurrent {
				// A current delete-marker reaches expireCurrentVersion only
				// as its key's lone version: not when an older version of
				// the key follows it, nor when it ends a truncated page.
				olderFollows := (i+1 < len(entries) && entries[i+1].Key == entry.Key) || (i+1 == len(entries) && truncated)
				if !entry.IsDeleteMarker || !olderFollows {
					limiter.Go(ctx, func() error {
						return p.expireCurrentVersion(ctx, bucket, entry, rules)
					})
				}
			} else {
				ref := entry.MTime
				if prevMTime != nil {
					ref = *prevMTime
				}
				limiter.Go(ctx, func() error {
					return p.expireNoncurrentVersion(ctx, bucket, entry, ref, rules)
				})
			}
			mt := entry.MTime
			prevMTime = &mt
		}
		if !truncated {
			return nil
		}
		marker = next
	}
}

func (p *Processor) expireCurrentVersion(ctx context.Context, bucket string, entry ObjectEntry, rules []Rule) error {
	if entry.IsDeleteMarker {
		// Only remove a lone delete-marker when a rule calls for it.
		for _, r := range rules {
			if r.DeleteMarkerExpiration && r.Filter.Matches(entry.Key, entry.Tags) {
				return p.deleter.DeleteObject(ctx, bucket, entry.Key, entry.Instance, true)
			}
		}
		return nil
	}
	for _, r := range rules {
		if !r.Filter.Matches(entry.Key, entry.Tags) || !r.HasCurrentExpiration() {
			continue
		}
		if !p.expired(r, entry.MTime) {
			continue
		}
		return p.deleter.CreateDeleteMarker(ctx, bucket, entry.Key)
	}
	return nil
}

func (p *Processor) expireNoncurrentVersion(ctx context.Context, bucket string, entry ObjectEntry, referenceMTime time.Time, rules []Rule) error {
	for _, r := range rules {
		if r.NoncurrentExpirationDays <= 0 || !r.Filter.Matches(entry.Key, entry.Tags) {
			continue
		}
		if !objHasExpiredDebug(time.Now(), referenceMTime, r.NoncurrentExpirationDays, p.debugInterval) {
			continue
		}
		return p.deleter.DeleteObject(ctx, bucket, entry.Key, entry.Instance, true)
	}
	return nil
}

// processMultipart implements §4.6's "Multipart-upload expiration".
func (p *Processor) processMultipart(ctx context.Context, bucket string, rules prefixRuleMap, stopAt time.Time, limiter *sync2.Limiter) error {
	marker := ""
	for {
		if pastDeadline(stopAt) {
			return nil
		}
		entries, next, truncated, err := p.lister.ListMultipartUploads(ctx, bucket, "", marker, listPageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			entry := e
			for prefix, prefixRules := range rules {
				if !hasPrefix(entry.Key, prefix) {
					continue
				}
				for _, r := range prefixRules {
					if r.MultipartExpirationDays <= 0 {
						continue
					}
					if !objHasExpiredDebug(time.Now(), entry.MTime, r.MultipartExpirationDays, p.debugInterval) {
						continue
					}
					limiter.Go(ctx, func() error {
						return p.deleter.AbortMultipartUpload(ctx, bucket, entry.Key, entry.UploadID)
					})
				}
			}
		}
		if !truncated {
			return nil
		}
		marker = next
	}
}

func isNamespaced(key string) bool {
	return len(key) > 0 && key[0] == '\x01' // RGW's namespaced-object sentinel prefix
}

func hasPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
