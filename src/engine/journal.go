package engine

// Every write to a collection data file is appended to the journal first,
// then applied. The journal is append-only and rotates by calendar day and
// by size; history is retained, matching the append-only write model of the
// store itself.

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// JournalEntry is a single logged write.
type JournalEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	Details    string    `json:"details"`
}

// Journal is the append-only write log for the collection store.
type Journal struct {
	file         *os.File
	baseFilePath string // base path for journal files, without date
	currentDate  time.Time
	maxFileSize  int64
	currentSize  int64
	rotation     int // per-day rotation counter for size-based rollover
}

// NewJournal creates a journal writing next to journalFilePath. A zero
// maxFileSize disables size-based rotation.
func NewJournal(journalFilePath string, maxFileSize int64) (*Journal, error) {
	journal := &Journal{
		baseFilePath: getBaseFilePath(journalFilePath),
		currentDate:  time.Now().Truncate(24 * time.Hour),
		maxFileSize:  maxFileSize,
	}

	if err := journal.ensureCorrectFileOpen(); err != nil {
		return nil, err
	}

	return journal, nil
}

// getBaseFilePath extracts the base path without date component
func getBaseFilePath(journalFilePath string) string {
	dir := filepath.Dir(journalFilePath)
	base := filepath.Base(journalFilePath)
	ext := filepath.Ext(journalFilePath)

	// Remove any existing date pattern (assuming YYYY-MM-DD format)
	baseName := strings.TrimSuffix(base, ext)
	datePattern := regexp.MustCompile(`_\d{4}-\d{2}-\d{2}(_\d+)?$`)
	baseName = datePattern.ReplaceAllString(baseName, "")

	return filepath.Join(dir, baseName)
}

// ensureCorrectFileOpen ensures the correct journal file is open based on
// the current date and rotation counter.
func (j *Journal) ensureCorrectFileOpen() error {
	today := time.Now().Truncate(24 * time.Hour)

	if j.file != nil && j.currentDate.Equal(today) {
		return nil
	}

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close previous journal file: %w", err)
		}
		j.file = nil
	}

	if !j.currentDate.Equal(today) {
		j.currentDate = today
		j.rotation = 0
	}

	return j.openCurrentFile()
}

func (j *Journal) openCurrentFile() error {
	dateStr := j.currentDate.Format("2006-01-02")
	fileName := fmt.Sprintf("%s_%s", j.baseFilePath, dateStr)
	if j.rotation > 0 {
		fileName = fmt.Sprintf("%s_%d", fileName, j.rotation)
	}
	fileName += ".journal"

	dir := filepath.Dir(fileName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", fileName, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file %s: %w", fileName, err)
	}

	j.file = file
	j.currentSize = info.Size()

	return nil
}

// AddEntry appends a write to the journal.
func (j *Journal) AddEntry(collection, recordID, details string) error {
	if err := j.ensureCorrectFileOpen(); err != nil {
		return err
	}

	entry := JournalEntry{
		Timestamp:  time.Now(),
		Collection: collection,
		RecordID:   recordID,
		Details:    details,
	}

	line := fmt.Sprintf("%s | %s | %s | %s\n",
		entry.Timestamp.Format(time.RFC3339), entry.Collection, entry.RecordID, entry.Details)

	if j.maxFileSize > 0 && j.currentSize+int64(len(line)) > j.maxFileSize {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file during rotation: %w", err)
		}
		j.file = nil
		j.rotation++
		if err := j.openCurrentFile(); err != nil {
			return err
		}
	}

	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write to journal file: %w", err)
	}
	j.currentSize += int64(len(line))

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	return nil
}
