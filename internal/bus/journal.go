package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// maxJournalLine bounds one journal record. Run events carry no results, so
// records stay small.
const maxJournalLine = 1 << 20

// JournalEntry is one line of a journal file.
type JournalEntry struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// Journal appends events to a JSON Lines file.
type Journal struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenJournal opens path for appending, creating it and its directory.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "create journal directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "open journal", err)
	}
	return &Journal{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one entry and syncs it to disk.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return apperrors.New(apperrors.CodeInternal, "journal is closed")
	}
	if err := j.enc.Encode(JournalEntry{Topic: topic, Event: event}); err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	return j.file.Sync()
}

// Close closes the journal file. Later appends fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file, j.enc = nil, nil
	return err
}

// JournalFilter selects entries from a journal.
type JournalFilter struct {
	// Topics keeps only these topics when non-empty.
	Topics []string

	// Since keeps only events created after it.
	Since time.Time

	// Limit caps the entries returned. Zero means no limit.
	Limit int
}

func (f JournalFilter) matches(e JournalEntry) bool {
	if len(f.Topics) > 0 && !slices.Contains(f.Topics, e.Topic) {
		return false
	}
	return f.Since.IsZero() || time.UnixMilli(e.Event.Timestamp).After(f.Since)
}

// ReadJournal returns the entries of the journal at path in write order.
// A missing file yields no entries; a malformed line is a format error.
func ReadJournal(path string, filter JournalFilter) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "open journal", err)
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, apperrors.FormatError(fmt.Sprintf("journal line %d: %v", line, err)).
				WithDetail("line", strconv.Itoa(line))
		}
		if !filter.matches(e) {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormat, "read journal", err)
	}
	return entries, nil
}

// JournalBus journals every published event before delegating to the
// inner bus.
type JournalBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournalBus wraps inner so that publishes are appended to journal.
func NewJournalBus(inner Bus, journal *Journal, log *logger.Logger) *JournalBus {
	if log == nil {
		log = logger.Default()
	}
	return &JournalBus{inner: inner, journal: journal, log: log}
}

// Publish journals the event, then publishes it. A journal failure is logged
// and does not block delivery.
func (b *JournalBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.WithError(err).Warn("Failed to journal event", "topic", topic, "event_id", event.ID)
	}
	return b.inner.Publish(ctx, topic, event)
}

func (b *JournalBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the inner bus, then the journal.
func (b *JournalBus) Close() error {
	err := b.inner.Close()
	if jerr := b.journal.Close(); jerr != nil {
		b.log.WithError(jerr).Warn("Failed to close journal", "path", b.journal.Path())
	}
	return err
}
