// Package merge implements the per-file decision policy that turns source
// candidates into destination files: duplicate content is skipped, name
// collisions get capture-date renames, and every processed file is recorded
// so later runs stay incremental.
package merge

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/capture"
	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/destindex"
	"github.com/starford/othala/internal/digest"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/ledger"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/storage"
)

// statsEventEvery throttles stats events to one per this many evaluated
// files; a final event always closes the run.
const statsEventEvery = 100

// Options configures an Engine. Store, Index, Ledger, Conflicts, Times, and
// Logger are required; the rest default sensibly.
type Options struct {
	Store     storage.Provider
	Index     *destindex.Index
	Ledger    *ledger.Ledger
	Conflicts *conflictlog.Log
	Times     *capture.Times
	Cache     fpcache.Cache
	Sink      Sink
	Logger    *slog.Logger
	Workers   int
	DryRun    bool
}

// Engine applies the merge decision policy. Hashing runs concurrently ahead
// of a single writer that decides, reserves, copies, and records one file at
// a time, in enumeration order.
type Engine struct {
	store     storage.Provider
	index     *destindex.Index
	ledger    *ledger.Ledger
	conflicts *conflictlog.Log
	times     *capture.Times
	cache     fpcache.Cache
	sink      Sink
	logger    *slog.Logger
	workers   int
	dryRun    bool

	stats   Stats
	runID   string
	started time.Time

	mu sync.Mutex // the single-writer lock around decide-reserve-copy-record

	finMu    sync.Mutex
	finished time.Time
}

// New returns an Engine ready to process candidates.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	cache := opts.Cache
	if cache == nil {
		cache = fpcache.Nop{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		store:     opts.Store,
		index:     opts.Index,
		ledger:    opts.Ledger,
		conflicts: opts.Conflicts,
		times:     opts.Times,
		cache:     cache,
		sink:      sink,
		logger:    opts.Logger,
		workers:   workers,
		dryRun:    opts.DryRun,
		runID:     uuid.NewString(),
		started:   time.Now(),
	}
}

// RunID identifies this engine's session.
func (e *Engine) RunID() string { return e.runID }

// Stats exposes the live counters.
func (e *Engine) Stats() *Stats { return &e.stats }

// Summary returns the run totals so far. It never blocks on in-flight copies.
func (e *Engine) Summary() models.Summary {
	c := e.stats.Snapshot()
	e.finMu.Lock()
	fin := e.finished
	e.finMu.Unlock()
	return models.Summary{
		RunID:       e.runID,
		Evaluated:   c.Evaluated,
		Copied:      c.Copied,
		Renamed:     c.Renamed,
		Duplicates:  c.Duplicates,
		AlreadySeen: c.AlreadySeen,
		Failed:      c.Failed,
		BytesCopied: c.BytesCopied,
		StartedAt:   e.started,
		FinishedAt:  fin,
	}
}

// Run drains candidates, hashing up to workers files ahead while committing
// results strictly in enumeration order, so rename outcomes do not depend on
// hashing speed. Per-file failures never abort the run; the returned error
// reflects only context cancellation.
func (e *Engine) Run(ctx context.Context, candidates <-chan models.SourceFile) (models.Summary, error) {
	e.logger.Info("merge: run started",
		slog.String("run_id", e.runID),
		slog.Int("workers", e.workers),
		slog.Bool("dry_run", e.dryRun))

	type hashed struct {
		seq int
		sf  models.SourceFile
		fp  digest.Fingerprint
		err error
	}
	results := make(chan hashed, e.workers*2)

	go func() {
		defer close(results)
		g := new(errgroup.Group)
		g.SetLimit(e.workers)
		seq := 0
		for sf := range candidates {
			i := seq
			seq++
			g.Go(func() error {
				fp, err := fpcache.Fingerprint(e.cache, sf.Path, sf.Size, sf.ModTime)
				select {
				case results <- hashed{seq: i, sf: sf, fp: fp, err: err}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	// Reorder out-of-order hash results back into enumeration order.
	next := 0
	pending := make(map[int]hashed)
	for h := range results {
		pending[h.seq] = h
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			e.commit(cur.sf, cur.fp, cur.err, e.dryRun)
		}
	}

	e.finMu.Lock()
	e.finished = time.Now()
	e.finMu.Unlock()
	e.publishStats()

	sum := e.Summary()
	e.logger.Info("merge: run finished",
		slog.String("run_id", e.runID),
		slog.Int64("evaluated", sum.Evaluated),
		slog.Int64("copied", sum.Copied),
		slog.Int64("renamed", sum.Renamed),
		slog.Int64("duplicates", sum.Duplicates),
		slog.Int64("already_seen", sum.AlreadySeen),
		slog.Int64("failed", sum.Failed),
		slog.Int64("bytes_copied", sum.BytesCopied))
	return sum, ctx.Err()
}

// ProcessFile merges one candidate outside a batch run. Watch mode and the
// ingest endpoint feed files through here.
func (e *Engine) ProcessFile(sf models.SourceFile) models.Decision {
	fp, err := fpcache.Fingerprint(e.cache, sf.Path, sf.Size, sf.ModTime)
	return e.commit(sf, fp, err, e.dryRun)
}

// Preview computes decisions with no side effects at all: nothing is copied,
// reserved, recorded, or counted. Because no reservations are taken, several
// previewed files colliding on one fresh name all report a plain copy. The
// candidates producer must honor ctx so Preview can stop at max.
func (e *Engine) Preview(ctx context.Context, candidates <-chan models.SourceFile, max int) ([]models.Decision, error) {
	var out []models.Decision
	for sf := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if max > 0 && len(out) >= max {
			break
		}
		fp, err := fpcache.Fingerprint(e.cache, sf.Path, sf.Size, sf.ModTime)
		if err != nil {
			out = append(out, models.Decision{Source: sf.Path, Outcome: models.OutcomeFailed, Reason: models.ReasonHashFailed})
			continue
		}
		e.mu.Lock()
		d := e.decide(sf, fp)
		e.mu.Unlock()
		out = append(out, d)
	}
	return out, nil
}

// decide computes the outcome for a hashed candidate against current index
// and ledger state. Content identity wins over filename identity, so a
// same-name-same-content pair resolves as a duplicate, not a collision.
// decide mutates nothing.
func (e *Engine) decide(sf models.SourceFile, fp digest.Fingerprint) models.Decision {
	if e.ledger.Seen(fp) {
		return models.Decision{Source: sf.Path, Outcome: models.OutcomeAlreadySeen}
	}
	if existing, ok := e.index.ByFingerprint(fp); ok {
		d := models.Decision{Source: sf.Path, Outcome: models.OutcomeDuplicate, DestName: existing}
		if sf.Base != existing {
			d.Reason = models.ReasonSameContentDifferentName
		}
		return d
	}
	if _, taken := e.index.ByName(sf.Base); taken {
		return models.Decision{
			Source:   sf.Path,
			Outcome:  models.OutcomeRenamed,
			DestName: e.disambiguate(sf),
			Reason:   models.ReasonSameNameDifferentContent,
		}
	}
	return models.Decision{Source: sf.Path, Outcome: models.OutcomeCopied, DestName: sf.Base}
}

// commit decides and applies one candidate under the single-writer lock.
func (e *Engine) commit(sf models.SourceFile, fp digest.Fingerprint, hashErr error, dry bool) models.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.evaluated.Add(1)
	defer e.maybePublishStats()

	if hashErr != nil {
		return e.fail(sf, models.ReasonHashFailed, hashErr, dry)
	}

	d := e.decide(sf, fp)
	now := time.Now()
	switch d.Outcome {
	case models.OutcomeAlreadySeen:
		e.stats.alreadySeen.Add(1)
		e.logger.Debug("merge: already recorded", slog.String("source", sf.Path))
		if !dry {
			e.publish(Event{Type: EventSkipped, Source: sf.Path, Time: now})
		}
		return d

	case models.OutcomeDuplicate:
		e.stats.duplicates.Add(1)
		e.logger.Info("merge: duplicate content",
			slog.String("source", sf.Path),
			slog.String("existing", d.DestName))
		if dry {
			return d
		}
		if d.Reason != "" {
			e.appendConflict(models.ConflictRecord{
				Time: now, Source: sf.Path, Outcome: d.Outcome,
				DestName: d.DestName, Reason: d.Reason,
			})
		}
		e.recordLedger(fp, sf.Path, now)
		e.publish(Event{Type: EventDuplicate, Source: sf.Path, DestName: d.DestName, Reason: d.Reason, Time: now})
		return d
	}

	// Fresh content, to be copied under its own or a disambiguated name.
	if dry {
		if d.Outcome == models.OutcomeRenamed {
			e.stats.renamed.Add(1)
		} else {
			e.stats.copied.Add(1)
		}
		e.logger.Info("merge: would copy",
			slog.String("source", sf.Path),
			slog.String("dest", d.DestName),
			slog.String("outcome", string(d.Outcome)))
		return d
	}

	if d.Outcome == models.OutcomeRenamed {
		e.appendConflict(models.ConflictRecord{
			Time: now, Source: sf.Path, Outcome: d.Outcome,
			DestName: d.DestName, Reason: d.Reason,
		})
	}
	if err := e.index.Reserve(d.DestName, fp); err != nil {
		return e.fail(sf, models.ReasonReserveConflict, err, false)
	}
	n, err := e.store.CopyIn(sf.Path, d.DestName, sf.ModTime)
	if err != nil {
		e.index.Release(d.DestName, fp)
		return e.fail(sf, models.ReasonCopyFailed, err, false)
	}

	if d.Outcome == models.OutcomeRenamed {
		e.stats.renamed.Add(1)
		e.logger.Info("merge: renamed",
			slog.String("source", sf.Path),
			slog.String("dest", d.DestName))
		e.publish(Event{Type: EventRenamed, Source: sf.Path, DestName: d.DestName, Reason: d.Reason, Time: now})
	} else {
		e.stats.copied.Add(1)
		e.logger.Info("merge: copied",
			slog.String("source", sf.Path),
			slog.String("dest", d.DestName))
		e.publish(Event{Type: EventCopied, Source: sf.Path, DestName: d.DestName, Time: now})
	}
	e.stats.bytesCopied.Add(n)
	e.recordLedger(fp, sf.Path, now)
	return d
}

// disambiguate finds the first free capture-date name for sf. Callers hold
// the commit lock, so the chosen name cannot be raced away.
func (e *Engine) disambiguate(sf models.SourceFile) string {
	ts := e.times.For(sf.Path, sf.ModTime)
	for attempt := 0; ; attempt++ {
		if attempt == suffixWarnThreshold {
			e.logger.Warn("merge: rename suffix search running long",
				slog.String("name", sf.Base),
				slog.Int("attempts", attempt))
		}
		cand := renameName(sf.Base, ts, attempt)
		if !e.index.HasName(cand) {
			return cand
		}
	}
}

// fail counts a skipped file and, outside dry runs, records the conflict.
func (e *Engine) fail(sf models.SourceFile, reason string, cause error, dry bool) models.Decision {
	e.stats.failed.Add(1)
	e.logger.Warn("merge: file skipped",
		slog.String("source", sf.Path),
		slog.String("reason", reason),
		slog.String("error", cause.Error()))
	if !dry {
		now := time.Now()
		e.appendConflict(models.ConflictRecord{
			Time: now, Source: sf.Path, Outcome: models.OutcomeFailed,
			Reason: reason, Detail: cause.Error(),
		})
		e.publish(Event{Type: EventFailed, Source: sf.Path, Reason: reason, Time: now})
	}
	return models.Decision{Source: sf.Path, Outcome: models.OutcomeFailed, Reason: reason}
}

func (e *Engine) appendConflict(rec models.ConflictRecord) {
	if err := e.conflicts.Append(rec); err != nil {
		e.logger.Error("merge: conflict log append failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) recordLedger(fp digest.Fingerprint, source string, when time.Time) {
	if err := e.ledger.Record(fp, source, when); err != nil {
		e.logger.Error("merge: ledger append failed",
			slog.String("source", source),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ev Event) { e.sink.Publish(ev) }

func (e *Engine) maybePublishStats() {
	if e.stats.evaluated.Load()%statsEventEvery == 0 {
		e.publishStats()
	}
}

func (e *Engine) publishStats() {
	c := e.stats.Snapshot()
	e.sink.Publish(Event{Type: EventStats, Counts: &c, Time: time.Now()})
}
