package merge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/othala/internal/capture"
	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/destindex"
	"github.com/starford/othala/internal/digest"
	"github.com/starford/othala/internal/fpcache"
	"github.com/starford/othala/internal/ledger"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/scan"
	"github.com/starford/othala/internal/storage"
)

var jpgSet = map[string]struct{}{".jpg": {}}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// env wires a source tree, a destination, and the engine's collaborators on
// temp paths, so tests can restart the stack to simulate separate runs.
type env struct {
	t       *testing.T
	src     string
	dest    string
	ledPath string
	logPath string

	led  *ledger.Ledger
	conf *conflictlog.Log
	eng  *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		t:       t,
		src:     t.TempDir(),
		dest:    t.TempDir(),
		ledPath: filepath.Join(t.TempDir(), "seen_sources.txt"),
		logPath: filepath.Join(t.TempDir(), "conflict_log.txt"),
	}
}

func (e *env) writeSource(rel, content string, mtime time.Time) string {
	e.t.Helper()
	path := filepath.Join(e.src, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write source: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			e.t.Fatalf("chtimes: %v", err)
		}
	}
	return path
}

func (e *env) writeDest(name, content string) {
	e.t.Helper()
	if err := os.WriteFile(filepath.Join(e.dest, name), []byte(content), 0o644); err != nil {
		e.t.Fatalf("write dest: %v", err)
	}
}

// start builds the engine over the env's paths. Restarting closes the old
// ledger and conflict log first, like a new process run would.
func (e *env) start(opts ...func(*Options)) *Engine {
	e.t.Helper()
	if e.led != nil {
		e.led.Close()
	}
	if e.conf != nil {
		e.conf.Close()
	}

	fs, err := storage.NewFS(e.dest)
	if err != nil {
		e.t.Fatalf("NewFS: %v", err)
	}
	led, err := ledger.Open(e.ledPath, testLogger())
	if err != nil {
		e.t.Fatalf("ledger.Open: %v", err)
	}
	conf, err := conflictlog.Open(e.logPath)
	if err != nil {
		e.t.Fatalf("conflictlog.Open: %v", err)
	}
	idx, err := destindex.Build(context.Background(), fs, jpgSet, fpcache.Nop{}, 2, testLogger())
	if err != nil {
		e.t.Fatalf("destindex.Build: %v", err)
	}

	o := Options{
		Store:     fs,
		Index:     idx,
		Ledger:    led,
		Conflicts: conf,
		Times:     capture.NewTimes(testLogger()),
		Logger:    testLogger(),
		Workers:   2,
	}
	for _, f := range opts {
		f(&o)
	}
	e.led = led
	e.conf = conf
	e.eng = New(o)
	e.t.Cleanup(func() {
		led.Close()
		conf.Close()
	})
	return e.eng
}

func (e *env) runBatch() models.Summary {
	e.t.Helper()
	s, err := scan.New(e.src, []string{".jpg"}, nil, testLogger())
	if err != nil {
		e.t.Fatalf("scan.New: %v", err)
	}
	sum, err := e.eng.Run(context.Background(), s.Run(context.Background()))
	if err != nil {
		e.t.Fatalf("Run: %v", err)
	}
	return sum
}

func (e *env) destNames() []string {
	e.t.Helper()
	entries, err := os.ReadDir(e.dest)
	if err != nil {
		e.t.Fatalf("read dest: %v", err)
	}
	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	return names
}

func (e *env) conflictLines() []string {
	e.t.Helper()
	data, err := os.ReadFile(e.logPath)
	if err != nil {
		e.t.Fatalf("read conflict log: %v", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type flakyStore struct {
	storage.Provider
	mu       sync.Mutex
	failName string
}

func (f *flakyStore) setFailName(name string) {
	f.mu.Lock()
	f.failName = name
	f.mu.Unlock()
}

func (f *flakyStore) CopyIn(src, name string, mt time.Time) (int64, error) {
	f.mu.Lock()
	fail := name == f.failName
	f.mu.Unlock()
	if fail {
		return 0, errors.New("injected copy failure")
	}
	return f.Provider.CopyIn(src, name, mt)
}

func TestRunCopiesFreshFilesVerbatim(t *testing.T) {
	e := newEnv(t)
	e.writeSource("a.jpg", "alpha bytes", time.Time{})
	e.writeSource("trips/b.jpg", "beta bytes", time.Time{})
	e.start()

	sum := e.runBatch()
	if sum.Copied != 2 || sum.Renamed != 0 || sum.Duplicates != 0 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if got := e.destNames(); !slices.Equal(got, []string{"a.jpg", "b.jpg"}) {
		t.Fatalf("dest = %v", got)
	}

	// Bytes are copied verbatim, never transcoded.
	srcFP, err := digest.SumFile(filepath.Join(e.src, "a.jpg"))
	if err != nil {
		t.Fatalf("SumFile src: %v", err)
	}
	dstFP, err := digest.SumFile(filepath.Join(e.dest, "a.jpg"))
	if err != nil {
		t.Fatalf("SumFile dest: %v", err)
	}
	if srcFP != dstFP {
		t.Error("source and destination digests differ")
	}
	if sum.BytesCopied != int64(len("alpha bytes")+len("beta bytes")) {
		t.Errorf("BytesCopied = %d", sum.BytesCopied)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.writeSource("a.jpg", "alpha", time.Time{})
	e.writeSource("b.jpg", "beta", time.Time{})
	e.start()
	first := e.runBatch()
	if first.Copied != 2 {
		t.Fatalf("first run copied %d, want 2", first.Copied)
	}
	destAfterFirst := e.destNames()

	e.start() // fresh process: reload ledger and rebuild the index
	second := e.runBatch()
	if second.Copied != 0 || second.AlreadySeen != 2 {
		t.Fatalf("second run not incremental: %+v", second)
	}
	if got := e.destNames(); !slices.Equal(got, destAfterFirst) {
		t.Fatalf("destination changed across runs: %v vs %v", got, destAfterFirst)
	}
	if lines := e.conflictLines(); len(lines) != 0 {
		t.Fatalf("idempotent rerun produced conflicts: %v", lines)
	}
}

func TestDuplicateContentDifferentNameLogsAndSkips(t *testing.T) {
	e := newEnv(t)
	e.writeSource("x/photo1.jpg", "same pixels", time.Time{})
	e.writeSource("y/photo2.jpg", "same pixels", time.Time{})
	e.start()

	sum := e.runBatch()
	if sum.Copied != 1 || sum.Duplicates != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.destNames(); !slices.Equal(got, []string{"photo1.jpg"}) {
		t.Fatalf("dest = %v", got)
	}
	lines := e.conflictLines()
	if len(lines) != 1 {
		t.Fatalf("conflict lines = %v", lines)
	}
	if !strings.Contains(lines[0], models.ReasonSameContentDifferentName) ||
		!strings.Contains(lines[0], "photo2.jpg") ||
		!strings.Contains(lines[0], "existing=photo1.jpg") {
		t.Errorf("malformed conflict line: %s", lines[0])
	}
	// Both paths end up in the ledger so neither is rehashed next run.
	if e.led.Appended() != 2 {
		t.Errorf("ledger appended = %d, want 2", e.led.Appended())
	}
}

func TestSameNameSameContentIsSilent(t *testing.T) {
	e := newEnv(t)
	e.writeDest("c.jpg", "gamma")
	e.writeSource("c.jpg", "gamma", time.Time{})
	e.start()

	sum := e.runBatch()
	if sum.Duplicates != 1 || sum.Copied != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if lines := e.conflictLines(); len(lines) != 0 {
		t.Fatalf("expected no conflict record, got %v", lines)
	}
	if e.led.Appended() != 1 {
		t.Errorf("ledger appended = %d, want 1", e.led.Appended())
	}
}

func TestNameCollisionRenamesWithCaptureDate(t *testing.T) {
	e := newEnv(t)
	e.writeDest("beach.jpg", "original")
	// Test bytes carry no decodable metadata, so the rename falls back to
	// the file's modification time.
	shot := time.Date(2022, 8, 14, 10, 30, 0, 0, time.UTC)
	e.writeSource("beach.jpg", "different pixels", shot)
	e.start()

	sum := e.runBatch()
	if sum.Renamed != 1 || sum.Copied != 0 || sum.Failed != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.destNames(); !slices.Equal(got, []string{"20220814_beach.jpg", "beach.jpg"}) {
		t.Fatalf("dest = %v", got)
	}
	lines := e.conflictLines()
	if len(lines) != 1 || !strings.Contains(lines[0], models.ReasonSameNameDifferentContent) ||
		!strings.Contains(lines[0], "copied-as=20220814_beach.jpg") {
		t.Errorf("rename conflict line: %v", lines)
	}
}

func TestRenameSuffixChain(t *testing.T) {
	e := newEnv(t)
	shot := time.Date(2022, 8, 14, 10, 30, 0, 0, time.UTC)
	e.writeDest("beach.jpg", "one")
	e.writeDest("20220814_beach.jpg", "two")
	e.writeDest("20220814_beach_0.jpg", "three")
	e.writeSource("beach.jpg", "four", shot)
	e.start()

	sum := e.runBatch()
	if sum.Renamed != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if !slices.Contains(e.destNames(), "20220814_beach_1.jpg") {
		t.Fatalf("suffix chain broken: %v", e.destNames())
	}
}

func TestCopyFailureReleasesReservationForRetry(t *testing.T) {
	e := newEnv(t)
	e.writeSource("x.jpg", "payload", time.Time{})
	var flaky *flakyStore
	e.start(func(o *Options) {
		flaky = &flakyStore{Provider: o.Store, failName: "x.jpg"}
		o.Store = flaky
	})

	sum := e.runBatch()
	if sum.Failed != 1 || sum.Copied != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(e.destNames()) != 0 {
		t.Fatalf("dest not empty: %v", e.destNames())
	}
	if e.led.Appended() != 0 {
		t.Fatal("failed copy must not reach the ledger")
	}
	lines := e.conflictLines()
	if len(lines) != 1 || !strings.Contains(lines[0], models.ReasonCopyFailed) {
		t.Fatalf("conflict lines: %v", lines)
	}

	// The reservation was released, so a retry in the same session works.
	flaky.setFailName("")
	sf, err := scan.FileInfo(filepath.Join(e.src, "x.jpg"))
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	d := e.eng.ProcessFile(sf)
	if d.Outcome != models.OutcomeCopied || d.DestName != "x.jpg" {
		t.Fatalf("retry decision: %+v", d)
	}
	if !slices.Equal(e.destNames(), []string{"x.jpg"}) {
		t.Fatalf("dest after retry: %v", e.destNames())
	}
	if e.led.Appended() != 1 {
		t.Errorf("ledger appended = %d after retry", e.led.Appended())
	}
}

func TestHashFailureSkipsFileAndContinues(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, chmod cannot block reads")
	}
	e := newEnv(t)
	locked := e.writeSource("locked.jpg", "secret", time.Time{})
	e.writeSource("open.jpg", "fine", time.Time{})
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	e.start()

	sum := e.runBatch()
	if sum.Failed != 1 || sum.Copied != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	lines := e.conflictLines()
	if len(lines) != 1 || !strings.Contains(lines[0], models.ReasonHashFailed) {
		t.Fatalf("conflict lines: %v", lines)
	}
	if !slices.Equal(e.destNames(), []string{"open.jpg"}) {
		t.Fatalf("dest = %v", e.destNames())
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	e := newEnv(t)
	e.writeDest("dup.jpg", "shared")
	e.writeSource("dup2.jpg", "shared", time.Time{})
	e.writeSource("fresh.jpg", "new", time.Time{})
	e.start(func(o *Options) { o.DryRun = true })

	sum := e.runBatch()
	if sum.Copied != 1 || sum.Duplicates != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := e.destNames(); !slices.Equal(got, []string{"dup.jpg"}) {
		t.Fatalf("dry run changed destination: %v", got)
	}
	if e.led.Appended() != 0 {
		t.Error("dry run wrote ledger records")
	}
	if lines := e.conflictLines(); len(lines) != 0 {
		t.Errorf("dry run wrote conflict records: %v", lines)
	}
}

func TestPreviewIsPureAndCapped(t *testing.T) {
	e := newEnv(t)
	e.writeSource("a.jpg", "one", time.Time{})
	e.writeSource("b.jpg", "two", time.Time{})
	e.writeSource("c.jpg", "three", time.Time{})
	e.start()

	s, err := scan.New(e.src, []string{".jpg"}, nil, testLogger())
	if err != nil {
		t.Fatalf("scan.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	decisions, err := e.eng.Preview(ctx, s.Run(ctx), 2)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("len = %d, want 2", len(decisions))
	}
	for _, d := range decisions {
		if d.Outcome != models.OutcomeCopied {
			t.Errorf("decision %+v, want copied", d)
		}
	}
	if len(e.destNames()) != 0 {
		t.Error("preview copied files")
	}
	if c := e.eng.Stats().Snapshot(); c.Evaluated != 0 {
		t.Errorf("preview moved counters: %+v", c)
	}
}

func TestProcessFileRoutesSingleCandidates(t *testing.T) {
	e := newEnv(t)
	path := e.writeSource("drop.jpg", "dropped-in", time.Time{})
	e.start()

	sf, err := scan.FileInfo(path)
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if d := e.eng.ProcessFile(sf); d.Outcome != models.OutcomeCopied {
		t.Fatalf("first pass: %+v", d)
	}
	// The same file routed again is a silent content duplicate.
	if d := e.eng.ProcessFile(sf); d.Outcome != models.OutcomeDuplicate || d.Reason != "" {
		t.Fatalf("second pass: %+v", d)
	}
	if lines := e.conflictLines(); len(lines) != 0 {
		t.Errorf("unexpected conflicts: %v", lines)
	}
}

func TestEventsReachSink(t *testing.T) {
	e := newEnv(t)
	e.writeDest("taken.jpg", "held")
	e.writeSource("fresh.jpg", "new bytes", time.Time{})
	e.writeSource("other/fresh.jpg", "renamed bytes", time.Time{})
	e.writeSource("z/dup.jpg", "held", time.Time{})
	sink := &captureSink{}
	e.start(func(o *Options) { o.Sink = sink })

	e.runBatch()
	types := sink.types()
	for _, want := range []string{EventCopied, EventRenamed, EventDuplicate, EventStats} {
		if !slices.Contains(types, want) {
			t.Errorf("missing event %s in %v", want, types)
		}
	}
}
