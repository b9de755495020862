package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Publisher ships digests to an external sink.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload any) error
}

type CollectorConfig struct {
	Source string // stamped on every digest
	Topic  string
	// Interval and Threshold bound how long and how many distinct entries wait for a flush.
	Interval  time.Duration
	Threshold int
	Publisher Publisher
}

// Entry is one distinct warning or error and how often it repeated.
type Entry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller"`
	Fields    map[string]any `json:"fields,omitempty"`
	Count     int            `json:"count"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Digest is one flushed batch, most repeated entries first.
type Digest struct {
	Source    string    `json:"source"`
	FlushedAt time.Time `json:"flushed_at"`
	Entries   []Entry   `json:"entries"`
}

// Collector folds repeated warnings and errors into counts so a failing loop
// sends one line per distinct problem instead of one per occurrence.
type Collector struct {
	cfg CollectorConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	c := &Collector{cfg: cfg, now: time.Now, entries: map[string]*Entry{}, stop: make(chan struct{})}
	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Collector) Add(level, msg, caller string, fields map[string]any) {
	key := entryKey(level, msg, caller, fields)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &Entry{Level: level, Message: msg, Caller: caller, Fields: fields, Count: 1, FirstSeen: now, LastSeen: now}
	if len(c.entries) >= c.cfg.Threshold {
		c.flushLocked()
	}
}

// entryKey identifies an entry by everything but its timestamps.
func entryKey(level, msg, caller string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", level, caller, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, fields[k])
	}
	return b.String()
}

func (c *Collector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// flushLocked swaps the entries out and publishes them in the background.
func (c *Collector) flushLocked() {
	if len(c.entries) == 0 || c.cfg.Publisher == nil {
		return
	}
	d := Digest{Source: c.cfg.Source, FlushedAt: c.now().UTC(), Entries: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		d.Entries = append(d.Entries, *e)
	}
	sort.SliceStable(d.Entries, func(i, j int) bool { return d.Entries[i].Count > d.Entries[j].Count })
	c.entries = map[string]*Entry{}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, d); err != nil {
			// the logger cannot log its own sink failures
			fmt.Fprintf(os.Stderr, "log digest publish failed: %v\n", err)
		}
	}()
}

// Pending counts distinct entries waiting for the next flush.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close flushes what is left and waits for in-flight publishes.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
