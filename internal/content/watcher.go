// Watcher keeps the served docs current: it polls SSM for the published
// bundle hash and hot-swaps the Manager's snapshot when the hash moves.
//
// Bundles live entirely in memory, so a rejected or replaced bundle needs
// no cleanup; the old filesystem is garbage once the Manager's pointer
// swings away from it.
package content

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/arothfield/docsite-web/internal/cryptoutil"
	"github.com/arothfield/docsite-web/internal/l10n"
	"github.com/arothfield/docsite-web/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new hash.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute

	// defaultStaleThreshold is how long without a successful SSM poll
	// before the watcher declares the served docs unverifiable.
	defaultStaleThreshold = 30 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange        pollResult = iota // published hash matches what we serve
	pollSwapped                           // new bundle loaded, validated, and swapped
	pollSSMError                          // hash lookup failed - caller should back off
	pollLoadError                         // download/verify/extract failed
	pollValidationError                   // bundle loaded but is not servable
)

// BundleFetcher is what the Watcher needs from a Loader: resolve the
// published hash and turn a hash into a snapshot. Kept narrow so tests can
// fake it and so the source (S3 today) can change under it.
type BundleFetcher interface {
	FetchCurrentBundleHash(ctx context.Context) (hash string, err error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by the metrics package to observe watcher behavior.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

// WatcherOptions configures the content bundle watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration

	// Validation configures the servability checks a new bundle must pass
	// before it replaces the current one. Zero value uses
	// DefaultValidationOptions().
	Validation *ValidationOptions

	// OnSwap is called after a successful content swap, synchronously on
	// the poll goroutine. Used to refresh the content gauges.
	OnSwap func(hash, version string)

	// Metrics receives watcher observability signals (polls, swaps, errors, durations).
	Metrics WatcherMetrics

	// StaleThreshold overrides defaultStaleThreshold when positive.
	StaleThreshold time.Duration
}

// Watcher polls for doc bundle changes and hot-swaps them into the manager.
type Watcher struct {
	loader     BundleFetcher
	manager    *Manager
	logger     log.Logger
	interval   time.Duration
	validation ValidationOptions
	onSwap     func(hash, version string)
	metrics    WatcherMetrics

	// hash of the bundle we currently serve, for change detection
	currentHash string

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a content watcher. Call Run to start the poll loop.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	// seed from the manager so the first poll doesn't re-download the
	// bundle that was already loaded at startup
	currentHash := ""
	if snap, ok := opts.Manager.Get(); ok {
		currentHash = snap.Meta.SHA256
	}

	validation := DefaultValidationOptions()
	if opts.Validation != nil {
		validation = *opts.Validation
	}

	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       interval,
		validation:     validation,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    currentHash,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "bundle watcher starting",
		"poll_interval", w.interval.String(),
		"serving_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "bundle watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			w.adjustCadence(ctx, result, ticker)
			w.trackStaleness(ctx, result)
		}
	}
}

// adjustCadence stretches the ticker while SSM is failing and snaps it
// back once a poll succeeds.
func (w *Watcher) adjustCadence(ctx context.Context, result pollResult, ticker *time.Ticker) {
	if result == pollSSMError {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "bundle watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		ticker.Reset(backoff)
		return
	}
	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "bundle watcher: hash lookups recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		ticker.Reset(w.interval)
	}
}

// trackStaleness raises a one-shot alarm when the served docs can no
// longer be verified as current, and clears it on recovery.
func (w *Watcher) trackStaleness(ctx context.Context, result pollResult) {
	if result != pollSSMError {
		// any non-SSM-error result updated lastSuccessAt
		if w.staleLogged {
			w.logger.Info(ctx, "bundle watcher: served docs verified current again")
			w.staleLogged = false
			if w.metrics != nil {
				w.metrics.SetWatcherStale(false)
			}
		}
		return
	}
	if time.Since(w.lastSuccessAt) > w.staleThreshold && !w.staleLogged {
		w.logger.Error(ctx, fmt.Errorf("last successful hash poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
			"bundle watcher: served docs may be stale, cannot verify freshness",
		)
		w.staleLogged = true
		if w.metrics != nil {
			w.metrics.SetWatcherStale(true)
		}
	}
}

// checkOnce performs a single poll-compare-swap cycle.
// Returns what happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentBundleHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: hash poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	// no change - most common path by far
	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "bundle watcher: new bundle published",
		"serving_hash", truncHash(w.currentHash),
		"published_hash", truncHash(hash),
	)

	// download, verify signature and checksum, extract to memory
	loadStart := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	loadDur := time.Since(loadStart).Seconds()
	if w.metrics != nil {
		w.metrics.ObserveBundleLoadDuration(loadDur)
	}

	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: failed to load bundle",
			"hash", truncHash(hash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	// a bundle that would serve broken docs never replaces a working one
	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "bundle watcher: bundle not servable, keeping current docs",
			"rejected_hash", truncHash(hash),
			"serving_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("validation")
		}
		return pollValidationError
	}

	w.swapIn(ctx, hash, snap)
	return pollSwapped
}

// swapIn makes snap the served bundle and notifies observers.
func (w *Watcher) swapIn(ctx context.Context, hash string, snap *Snapshot) {
	oldHash := w.currentHash
	w.manager.Set(*snap)
	w.swapCount++
	w.currentHash = hash

	version := w.manager.ContentVersion()

	w.logger.Info(ctx, "bundle watcher: bundle swapped",
		"old_hash", truncHash(oldHash),
		"new_hash", truncHash(hash),
		"version", version,
		"locales", len(bundleLocales(snap)),
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"bundle watcher: OnSwap callback panicked, continuing",
						"hash", truncHash(hash),
					)
				}
			}()
			w.onSwap(hash, version)
		}()
	}
}

// bundleLocales lists the locale directories at the bundle root. Top-level
// entries that are not recognized locales (static/, media/, robots.txt)
// are not counted.
func bundleLocales(snap *Snapshot) []string {
	if snap == nil || snap.FS == nil {
		return nil
	}
	entries, err := fs.ReadDir(snap.FS, ".")
	if err != nil {
		return nil
	}
	var locales []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if loc, ok := l10n.Canonical(e.Name()); ok && loc == e.Name() {
			locales = append(locales, e.Name())
		}
	}
	return locales
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// truncHash returns the first 12 characters of a hash for logging.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
