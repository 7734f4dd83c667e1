package mmconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tuning is the optional mm-runtime.json shape. A zero value leaves the
// corresponding setting as it is (SetReaperPeriod and SetWritebackTimeout
// ignore non-positive durations); the file is entirely optional (spec §9's
// tunability note for writeback timeout and reaper period).
type Tuning struct {
	WritebackTimeout time.Duration `json:"writeback_timeout_ms"`
	ReaperPeriod     time.Duration `json:"reaper_period_ms"`
}

// TuningWatcher watches a tuning file for changes and republishes the
// parsed value on Updates, mirroring FSNotifyWatcher's single-goroutine
// fan-out shape.
type TuningWatcher struct {
	w       *fsnotify.Watcher
	updates chan Tuning
}

// WatchTuning starts watching path's containing directory (fsnotify can
// only watch directories for create-then-rename style editors) and parses
// path whenever it changes. A missing file at start is not an error: the
// watcher simply waits for one to appear.
func WatchTuning(path string) (*TuningWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	tw := &TuningWatcher{w: w, updates: make(chan Tuning, 1)}

	go tw.loop(path)

	if t, err := loadTuning(path); err == nil {
		select {
		case tw.updates <- t:
		default:
		}
	}

	return tw, nil
}

func (tw *TuningWatcher) loop(path string) {
	for {
		select {
		case ev, ok := <-tw.w.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			t, err := loadTuning(path)
			if err != nil {
				continue
			}

			select {
			case tw.updates <- t:
			default:
				// Drop the stale pending value, keep only the freshest.
				select {
				case <-tw.updates:
				default:
				}

				tw.updates <- t
			}
		case _, ok := <-tw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Updates is the channel of parsed tuning snapshots.
func (tw *TuningWatcher) Updates() <-chan Tuning { return tw.updates }

// Close stops watching.
func (tw *TuningWatcher) Close() error { return tw.w.Close() }

func loadTuning(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}

	var raw struct {
		WritebackTimeoutMS int64 `json:"writeback_timeout_ms"`
		ReaperPeriodMS     int64 `json:"reaper_period_ms"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return Tuning{}, err
	}

	return Tuning{
		WritebackTimeout: time.Duration(raw.WritebackTimeoutMS) * time.Millisecond,
		ReaperPeriod:     time.Duration(raw.ReaperPeriodMS) * time.Millisecond,
	}, nil
}
