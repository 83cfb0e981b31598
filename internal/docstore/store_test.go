package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T, opts *Options) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

type song struct {
	BVID   string `json:"bvid"`
	Name   string `json:"songName"`
	Plays  int    `json:"play_count"`
	Public bool   `json:"is_public"`
}

func TestReadAfterWrite(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)

	tests := []struct {
		name string
		key  string
		doc  any
	}{
		{"empty array", "a", []any{}},
		{"object", "b", map[string]any{"x": 1.0, "y": "z"}},
		{"nested key", "users/42/prefs", map[string]any{"theme": "dark"}},
		{"non ascii", "c", []any{"示例歌曲", "naïve <b>&</b>"}},
		{"scalar", "d", 3.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Save(ctx, s, tt.key, tt.doc); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := Load[any](ctx, s, tt.key, nil)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.doc) {
				t.Errorf("Load = %#v, want %#v", got, tt.doc)
			}
		})
	}
}

func TestReadAfterWriteTyped(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	want := []song{{BVID: "BV1xx411c7mD", Name: "晴天", Plays: 3, Public: true}}
	if err := Save(ctx, s, "mappings", want); err != nil {
		t.Fatal(err)
	}
	got, err := Load[[]song](ctx, s, "mappings", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestSaveEmptyArray(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	if err := Save(ctx, s, "mappings", []any{}); err != nil {
		t.Fatal(err)
	}
	got, err := Load[any](ctx, s, "mappings", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 0 {
		t.Errorf("Load = %#v, want empty array", got)
	}
}

func TestMissingKeyDefault(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)

	def := []string{"default"}
	got, err := Load(ctx, s, "nonexistent", def)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, def) {
		t.Errorf("Load = %v, want %v", got, def)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Load created files: %v", entries)
	}
}

func TestLoadMissingDoesNotCreate(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	got, err := Load[any](ctx, s, "nonexistent", []any{})
	if err != nil {
		t.Fatal(err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 0 {
		t.Errorf("Load = %#v, want empty array", got)
	}
	for _, name := range []string{"nonexistent", "nonexistent.json"} {
		if _, err := os.Stat(filepath.Join(s.Dir(), name)); !os.IsNotExist(err) {
			t.Errorf("%s exists after Load: %v", name, err)
		}
	}
}

func TestCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated object", "{bad json"},
		{"empty file", ""},
		{"binary", "\x00\x01\x02"},
		{"wrong shape", `{"not": "an array"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			var logs bytes.Buffer
			s := newTestStore(t, &Options{Logger: slog.New(slog.NewJSONHandler(&logs, nil))})
			path, err := s.Path("broken")
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			got, err := Load(ctx, s, "broken", []song{})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("Load = %#v, want empty default", got)
			}

			var entry map[string]any
			if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
				t.Fatalf("expected one structured log line, got %q: %v", logs.String(), err)
			}
			if entry["key"] != "broken" || entry["path"] != path || entry["err"] == nil {
				t.Errorf("log entry = %v", entry)
			}

			var prom bytes.Buffer
			s.Metrics().WritePrometheus(&prom)
			if !strings.Contains(prom.String(), `docstore_decode_failures_total{key="broken"} 1`) {
				t.Errorf("decode failure not counted:\n%s", prom.String())
			}

			// The corrupt file is left untouched for inspection.
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.content {
				t.Errorf("file was modified: %q", data)
			}
		})
	}
}

func TestLoadMalformedBytes(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	if err := os.WriteFile(filepath.Join(s.Dir(), "k.json"), []byte("{bad json"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load[any](ctx, s, "k", []any{})
	if err != nil {
		t.Fatal(err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 0 {
		t.Errorf("Load = %#v, want empty array", got)
	}
}

func TestLoadStrict(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)

	got, err := LoadStrict(ctx, s, "missing", []song{{BVID: "def"}})
	if err != nil || len(got) != 1 || got[0].BVID != "def" {
		t.Fatalf("LoadStrict(missing) = %v, %v", got, err)
	}

	want := []song{{BVID: "BV1", Plays: 3}}
	if err := Save(ctx, s, "ok", want); err != nil {
		t.Fatal(err)
	}
	if got, err := LoadStrict(ctx, s, "ok", []song(nil)); err != nil || !reflect.DeepEqual(got, want) {
		t.Errorf("LoadStrict(ok) = %v, %v", got, err)
	}

	// Valid JSON that does not fit the type is corrupt too.
	path, _ := s.Path("mistyped")
	doc := `[{"bvid": "BV1", "play_count": "three"}]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStrict(ctx, s, "mistyped", []song{}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("LoadStrict(mistyped) error = %v, want ErrCorrupt", err)
	}
	if data, _ := os.ReadFile(path); string(data) != doc {
		t.Errorf("file was modified: %q", data)
	}
}

// bigDoc returns a document large enough that an interleaved write would be
// visible as a decode failure.
func bigDoc(id int) []song {
	out := make([]song, 200)
	for i := range out {
		out[i] = song{BVID: fmt.Sprintf("BV%d-%d", id, i), Name: strings.Repeat(string(rune('a'+id%26)), 64), Plays: id}
	}
	return out
}

func TestMutualExclusion(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	const n = 32

	var eg errgroup.Group
	for i := range n {
		eg.Go(func() error {
			return Save(ctx, s, "shared", bigDoc(i))
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	path, _ := s.Path("shared")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []song
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("file does not decode: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("empty document")
	}
	if want := bigDoc(got[0].Plays); !reflect.DeepEqual(got, want) {
		t.Error("document is not exactly one of the writes")
	}
	assertNoTempFiles(t, s.Dir())
}

func TestConcurrentWritersLastWrite(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)

	var eg errgroup.Group
	for w := range 2 {
		eg.Go(func() error {
			for i := range 100 {
				doc := map[string]any{"writer": float64(w), "seq": float64(i)}
				if err := Save(ctx, s, "k", doc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	got, err := Load[map[string]any](ctx, s, "k", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got["seq"] != 99.0 {
		t.Errorf("final document = %v, want a writer's last save", got)
	}
	if w := got["writer"]; w != 0.0 && w != 1.0 {
		t.Errorf("writer = %v", w)
	}
}

func TestPerKeyIndependence(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Update(ctx, s, "k1", 0, func(v *int) error {
			close(held)
			<-release
			*v++
			return nil
		})
	}()
	<-held

	// k1 is locked; k2 must proceed.
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := Save(opCtx, s, "k2", "value"); err != nil {
		t.Fatalf("Save on k2 blocked by k1: %v", err)
	}
	if _, err := Load(opCtx, s, "k2", ""); err != nil {
		t.Fatalf("Load on k2 blocked by k1: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestUpdateNoLostUpdates(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	const n = 50

	var eg errgroup.Group
	for range n {
		eg.Go(func() error {
			return Update(ctx, s, "counter", map[string]int{}, func(m *map[string]int) error {
				(*m)["n"]++
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	got, err := Load[map[string]int](ctx, s, "counter", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != n {
		t.Errorf("counter = %d, want %d", got["n"], n)
	}
}

func TestUpdateAbort(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	if err := Save(ctx, s, "k", []int{1}); err != nil {
		t.Fatal(err)
	}
	errStop := errors.New("stop")
	err := Update(ctx, s, "k", nil, func(v *[]int) error {
		*v = append(*v, 2)
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Update error = %v, want %v", err, errStop)
	}
	got, _ := Load[[]int](ctx, s, "k", nil)
	if !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("document changed to %v", got)
	}
}

func TestLockTimeout(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, &Options{LockTimeout: 20 * time.Millisecond})

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Update(ctx, s, "k", "", func(*string) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	if err := Save(ctx, s, "k", "x"); !errors.Is(err, ErrBusy) {
		t.Errorf("Save error = %v, want ErrBusy", err)
	}
	if _, err := Load(ctx, s, "k", ""); !errors.Is(err, ErrBusy) {
		t.Errorf("Load error = %v, want ErrBusy", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := Save(cctx, s, "k", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Save with canceled context = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestInvalidKeys(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	for _, key := range []string{"", ".", "..", "../escape", "a/../../b", "/etc/passwd", "nul\x00"} {
		t.Run(fmt.Sprintf("%q", key), func(t *testing.T) {
			if err := Save(ctx, s, key, 1); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Save error = %v, want ErrInvalidKey", err)
			}
			if _, err := Load(ctx, s, key, 0); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Load error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestKeyAliases(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	if err := Save(ctx, s, "mappings.json", []int{7}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"mappings", "./mappings", "mappings.json"} {
		got, err := Load[[]int](ctx, s, key, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, []int{7}) {
			t.Errorf("Load(%q) = %v", key, got)
		}
	}
	if keys := s.Keys(); !reflect.DeepEqual(keys, []string{"mappings"}) {
		t.Errorf("Keys = %v, want one lock for all aliases", keys)
	}
}

func TestFileFormat(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	doc := map[string]any{"name": "示例 <b>"}
	if err := Save(ctx, s, "fmt", doc); err != nil {
		t.Fatal(err)
	}
	path, _ := s.Path("fmt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"name\": \"示例 <b>\"\n}\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if runtimeSupportsPerm() && fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestWriteFailure(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	// A directory where the document should be makes the final rename fail.
	blocked := filepath.Join(s.Dir(), "blocked.json")
	if err := os.MkdirAll(filepath.Join(blocked, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	err := Save(ctx, s, "blocked", []int{1})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Save error = %v, want ErrWriteFailed", err)
	}
	assertNoTempFiles(t, s.Dir())

	// Encoding failures are write failures too.
	if err := Save(ctx, s, "chan", make(chan int)); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Save(chan) error = %v, want ErrWriteFailed", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "chan.json")); !os.IsNotExist(err) {
		t.Errorf("failed encode created a file: %v", err)
	}
}

func TestListAndStat(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	for _, k := range []string{"mappings", "playlists", "users/1"} {
		if err := Save(ctx, s, k, []int{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(s.Dir(), ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), ".git", "x.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bad", "mappings", "playlists", "users/1"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}

	st, err := s.Stat(ctx, "bad")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Exists || st.Err == nil {
		t.Errorf("Stat(bad) = %+v, want existing with decode error", st)
	}
	st, err = s.Stat(ctx, "mappings")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Exists || st.Err != nil || st.Size == 0 {
		t.Errorf("Stat(mappings) = %+v", st)
	}
	st, err = s.Stat(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if st.Exists {
		t.Errorf("Stat(missing) = %+v", st)
	}
}

func TestConcurrentRegistry(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, nil)
	var saves atomic.Int32
	var eg errgroup.Group
	for i := range 64 {
		eg.Go(func() error {
			key := fmt.Sprintf("k%d", i%8)
			if err := Save(ctx, s, key, i); err != nil {
				return err
			}
			saves.Add(1)
			_, err := Load(ctx, s, key, -1)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if saves.Load() != 64 {
		t.Errorf("saves = %d", saves.Load())
	}
	if got := len(s.Keys()); got != 8 {
		t.Errorf("registry has %d locks, want 8", got)
	}
}

func runtimeSupportsPerm() bool {
	return runtime.GOOS != "windows"
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestUpdatePreservesCorruptDocument(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t, &Options{Logger: slog.New(slog.DiscardHandler)})
	path, _ := s.Path("mappings")
	if err := os.WriteFile(path, []byte("{bad json"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := Update(ctx, s, "mappings", []int{}, func(v *[]int) error {
		*v = append(*v, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := Load[[]int](ctx, s, "mappings", nil)
	if !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Load = %v", got)
	}
	data, err := os.ReadFile(path + ".corrupt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{bad json" {
		t.Errorf("preserved = %q", data)
	}
}
