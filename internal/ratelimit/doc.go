// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// This is a single-instance, in-memory limiter for basic abuse prevention
// on the doc server. It does not defend against distributed attacks or
// anything that stays under the per-IP rate; that belongs to the CDN or
// WAF in front of us.
package ratelimit
