// Package config implements the narrow, file-backed configuration reader
// the core is allowed to own directly. The full multi-table
// file-watching ConfigManager named by the component design stays an
// external collaborator; this package only reads the single document of
// fuse/guard flags, pacing, goal targets, and notification settings the
// automation state machine consults, republishing a fresh Runtime to
// subscribers whenever the file changes on disk.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/liqi-mitm/core/internal/gamestate"
)

// Target mirrors gamestate.Target's on-disk shape. Kind may be omitted in
// the file when ID alone disambiguates an amulet goal, matching the
// teacher's lenient-decode texture for hand-edited documents.
type Target struct {
	Kind  string `json:"kind"`
	ID    int64  `json:"id"`
	Plus  *bool  `json:"plus,omitempty"`
	Badge *int64 `json:"badge,omitempty"`
	Value int    `json:"value,omitempty"`
}

func (t Target) toGamestate() gamestate.Target {
	kind := t.Kind
	if kind == "" {
		kind = "amulet"
	}
	return gamestate.Target{Kind: kind, ID: t.ID, Plus: t.Plus, Badge: t.Badge, Value: t.Value}
}

// Document is the on-disk shape of the one config file the core reads.
type Document struct {
	EndCount     int      `json:"end_count"`
	CutoffLevel  int64    `json:"cutoff_level"`
	OpIntervalMS int      `json:"op_interval_ms"`
	Targets      []Target `json:"targets"`
	EmailNotify  bool     `json:"email_notify"`
	Fuse         bool     `json:"fuse"`
	Guard        bool     `json:"guard"`
}

// Runtime is the decoded, ready-to-use view AutoRunner and cmd consume.
type Runtime struct {
	EndCount     int
	CutoffLevel  int64
	OpIntervalMS int
	Targets      []gamestate.Target
	EmailNotify  bool
	Fuse         bool
	Guard        bool
}

func (d Document) toRuntime() Runtime {
	targets := make([]gamestate.Target, len(d.Targets))
	for i, t := range d.Targets {
		targets[i] = t.toGamestate()
	}
	opInterval := d.OpIntervalMS
	if opInterval <= 0 {
		opInterval = 800
	}
	return Runtime{
		EndCount:     d.EndCount,
		CutoffLevel:  d.CutoffLevel,
		OpIntervalMS: opInterval,
		Targets:      targets,
		EmailNotify:  d.EmailNotify,
		Fuse:         d.Fuse,
		Guard:        d.Guard,
	}
}

// Source is the read-only configuration boundary the rest of the core
// depends on, matching the spec's Get(table, key)/Snapshot() contract
// with table collapsed to this package's one document.
type Source interface {
	Get(key string) (any, bool)
	Snapshot() Runtime
}

// ErrNotFound is the error for an unknown config key. File.Get does not
// return it; it reports an unknown key with ok == false.
var ErrNotFound = fmt.Errorf("config: key not found")

// File is a fsnotify-watched, json5-parsed Source over a single file on
// disk. Decode errors leave the previously loaded Runtime in place rather
// than zeroing it out, so a hand-edit mid-save never blanks the running
// config.
type File struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc Document
	rt  Runtime

	watcher  *fsnotify.Watcher
	onChange func(Runtime)
}

// Load reads path once and returns a File ready to serve Get/Snapshot. It
// does not start watching; call Watch separately.
func Load(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{path: path, logger: logger}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", f.path, err)
	}
	var doc Document
	if err := json5.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.doc = doc
	f.rt = doc.toRuntime()
	f.mu.Unlock()
	return nil
}

// Get returns one scalar or slice value by key: "end_count",
// "cutoff_level", "op_interval_ms", "targets", "email_notify", "fuse",
// "guard".
func (f *File) Get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch key {
	case "end_count":
		return f.doc.EndCount, true
	case "cutoff_level":
		return f.doc.CutoffLevel, true
	case "op_interval_ms":
		return f.rt.OpIntervalMS, true
	case "targets":
		return f.rt.Targets, true
	case "email_notify":
		return f.doc.EmailNotify, true
	case "fuse":
		return f.doc.Fuse, true
	case "guard":
		return f.doc.Guard, true
	default:
		return nil, false
	}
}

// Snapshot returns the fully decoded runtime view.
func (f *File) Snapshot() Runtime {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rt
}

// Watch starts an fsnotify watcher on the config file's directory and
// reloads on every write/create/rename event, invoking onChange (if
// non-nil) with the freshly decoded Runtime after each successful reload.
// The event loop runs until stop is closed; Watch itself returns once the
// watcher is set up and runs its event loop in a background goroutine.
func (f *File) Watch(stop <-chan struct{}, onChange func(Runtime)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	dir := dirOf(f.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	f.watcher = w
	f.onChange = onChange

	go f.watchLoop(stop)
	return nil
}

func (f *File) watchLoop(stop <-chan struct{}) {
	defer f.watcher.Close()
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != f.path {
				continue
			}
			if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if err := f.reload(); err != nil {
				f.logger.Warn("config.reload.failed", "err", err)
				continue
			}
			f.logger.Info("config.reloaded", "path", f.path)
			if f.onChange != nil {
				f.onChange(f.Snapshot())
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("config.watcher.error", "err", err)
		case <-stop:
			return
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// MustMarshalExample returns a human-editable json5 example document
// suitable for seeding a fresh config file.
func MustMarshalExample() []byte {
	doc := Document{
		EndCount:     3,
		OpIntervalMS: 800,
		Targets: []Target{
			{Kind: "amulet", ID: 1, Value: 1},
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		panic(err)
	}
	return data
}
