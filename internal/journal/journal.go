// Package journal appends dock events to date-organized JSONL files.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdock/internal/events"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errClosed = errors.New("journal: closed")

// Subscriber is the part of the event broker the journal follows.
type Subscriber interface {
	Subscribe() (int64, <-chan events.Event)
	Unsubscribe(id int64)
}

// Journal writes one JSON line per event to dir/<date>/events.jsonl,
// rotating by size within a day.
type Journal struct {
	dir       string
	maxSizeMB int
	now       func() time.Time

	mu      sync.Mutex
	date    string
	out     *lumberjack.Logger
	written int64
	closed  bool
	unsubs  []func()

	wg sync.WaitGroup
}

func New(dir string, maxSizeMB int) *Journal {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	return &Journal{dir: dir, maxSizeMB: maxSizeMB, now: time.Now}
}

// Append writes evt synchronously.
func (j *Journal) Append(evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", evt.Type, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errClosed
	}
	if date := j.now().UTC().Format("2006-01-02"); date != j.date || j.out == nil {
		if err := j.rotateLocked(date); err != nil {
			return err
		}
	}
	if _, err := j.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	j.written++
	return nil
}

func (j *Journal) rotateLocked(date string) error {
	if j.out != nil {
		_ = j.out.Close()
		j.out = nil
	}
	dir := filepath.Join(j.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}
	j.out = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "events.jsonl"),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	j.date = date
	slog.Info("journal file opened", "file", j.out.Filename)
	return nil
}

// Follow appends every event published on b until Close. The broker's
// subscriber buffer absorbs bursts; events it drops are not journaled.
func (j *Journal) Follow(b Subscriber) {
	id, ch := b.Subscribe()
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		b.Unsubscribe(id)
		return
	}
	j.unsubs = append(j.unsubs, func() { b.Unsubscribe(id) })
	j.wg.Add(1)
	j.mu.Unlock()

	go func() {
		defer j.wg.Done()
		for evt := range ch {
			if err := j.Append(evt); err != nil {
				if errors.Is(err, errClosed) {
					return
				}
				slog.Warn("journal append failed", "type", evt.Type, "error", err)
			}
		}
	}()
}

// Written returns how many events have been journaled.
func (j *Journal) Written() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}

// Close stops following, waits for the followers to exit and closes the
// file. Events still buffered in a subscription are dropped.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	unsubs := j.unsubs
	j.unsubs = nil
	j.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.out != nil {
		return j.out.Close()
	}
	return nil
}
