package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// flushDelay is the write debounce window. Rapid successive mutations
// collapse into one disk write.
const flushDelay = 500 * time.Millisecond

// Store holds the session state document and persists it to a single JSON
// file. Mutations schedule a debounced flush; Flush writes immediately and is
// required on shutdown. All methods are safe for concurrent use, but the
// store is single-writer: mutations go through Store methods only.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
	lock *FileLock

	timer *time.Timer
}

// NewStore creates a store persisting to path. Call Load before first use.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		doc:  newDocument(),
		lock: NewFileLock(path),
	}
}

// Load reads the state document from disk. A missing file leaves the store
// empty; a corrupt file is an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	doc := newDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*Session)
	}
	if doc.ChannelCwd == nil {
		doc.ChannelCwd = make(map[string]string)
	}
	s.doc = doc
	return nil
}

// scheduleFlush arms the debounce timer. Caller holds s.mu.
func (s *Store) scheduleFlush() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(flushDelay, func() {
		if err := s.Flush(); err != nil {
			// The next mutation retries; state stays correct in memory.
			fmt.Fprintf(os.Stderr, "state flush failed: %v\n", err)
		}
	})
}

// Flush cancels any pending debounce and rewrites the document wholesale.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temp file first, then rename (atomic operation).
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Put adds or replaces the session for its channel.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := sess
	s.doc.Sessions[sess.ChannelID] = &copied
	s.scheduleFlush()
}

// Get returns the session bound to a channel.
func (s *Store) Get(channelID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.doc.Sessions[channelID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Remove deletes the session for a channel and returns it. Removing a
// channel without a session returns ok=false and changes nothing.
func (s *Store) Remove(channelID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.doc.Sessions[channelID]
	if !ok {
		return Session{}, false
	}
	delete(s.doc.Sessions, channelID)
	s.scheduleFlush()
	return *sess, true
}

// All returns every live session.
func (s *Store) All() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.doc.Sessions))
	for _, sess := range s.doc.Sessions {
		out = append(out, *sess)
	}
	return out
}

// SetMessageCount updates the turn counter for a channel's session.
func (s *Store) SetMessageCount(channelID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.doc.Sessions[channelID]; ok {
		sess.MessageCount = count
		s.scheduleFlush()
	}
}

// SetAlertPercent records the highest announced usage percentage.
func (s *Store) SetAlertPercent(channelID string, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.doc.Sessions[channelID]; ok {
		sess.LastAlertPercent = percent
		s.scheduleFlush()
	}
}

// Reset rotates a session to a brand-new identity with a zero turn counter,
// used after a failed resume. Returns the updated session.
func (s *Store) Reset(channelID, newSessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.doc.Sessions[channelID]
	if !ok {
		return Session{}, false
	}
	sess.SessionID = newSessionID
	sess.MessageCount = 0
	sess.LastAlertPercent = 0
	s.scheduleFlush()
	return *sess, true
}

// SetChannelCwd stores the default working directory for a channel.
func (s *Store) SetChannelCwd(channelID, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ChannelCwd[channelID] = dir
	s.scheduleFlush()
}

// ChannelCwd returns the default working directory for a channel.
func (s *Store) ChannelCwd(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.doc.ChannelCwd[channelID]
	return dir, ok
}
