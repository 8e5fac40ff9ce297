package ledger

// #region imports
import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

// #endregion

// #region store

const ledgerFile = "ledger.jsonl"

// Store is the append-only event log for one session: one JSONL file, one
// writer. Every append runs under an exclusive lock file next to the
// journal, so a second controller instance surfaces as
// ConcurrentSessionError instead of interleaving entries.
type Store struct {
	sessionID string
	path      string
	lockPath  string
	cfg       Config
}

// Open prepares the store inside a session directory, creating the
// directory if needed. The ledger file itself appears on first append.
func Open(dir, sessionID string, cfg Config) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	path := filepath.Join(dir, ledgerFile)
	return &Store{
		sessionID: sessionID,
		path:      path,
		lockPath:  path + ".lock",
		cfg:       cfg,
	}, nil
}

// Path returns the journal location for inspection tools.
func (s *Store) Path() string { return s.path }

// #endregion store

// #region lock

// lockMeta is written into the lock file so a human can see who holds it.
type lockMeta struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) acquireLock() error {
	start := time.Now()
	deadline := start.Add(s.cfg.LockTimeout)
	attempts := 0
	for {
		attempts++
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			meta, _ := json.Marshal(lockMeta{PID: os.Getpid(), SessionID: s.sessionID, CreatedAt: time.Now().UTC()})
			_, _ = f.Write(meta)
			_ = f.Close()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock: %w", err)
		}
		// A crashed writer leaves its lock behind; reclaim it once it is
		// clearly abandoned.
		if info, statErr := os.Stat(s.lockPath); statErr == nil &&
			s.cfg.StaleAfter > 0 && time.Since(info.ModTime()) > s.cfg.StaleAfter {
			log.Printf("[LEDGER] reclaiming stale lock %s (age %s)", s.lockPath, time.Since(info.ModTime()).Round(time.Second))
			_ = os.Remove(s.lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return &ConcurrentSessionError{
				SessionID: s.sessionID,
				LockPath:  s.lockPath,
				Waited:    time.Since(start),
				Attempts:  attempts,
			}
		}
		time.Sleep(s.cfg.RetryInterval)
	}
}

func (s *Store) releaseLock() { _ = os.Remove(s.lockPath) }

// withLock runs fn while holding the session lock, releasing it
// unconditionally afterward.
func (s *Store) withLock(fn func() error) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()
	return fn()
}

// #endregion lock

// #region append

// computeHash hashes an event with its Hash field blanked. PrevHash
// participates, so entries form a tamper-evident chain.
func computeHash(e Event) (string, error) {
	e.Hash = ""
	canon, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Append validates e, assigns seq and chain fields under the session lock,
// and writes the entry durably. On return the event either exists on disk
// with its final seq and hash, or an error tells the caller nothing was
// written.
func (s *Store) Append(e *Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return s.withLock(func() error {
		last, err := s.tail()
		if err != nil {
			return err
		}
		if last == nil {
			e.Seq = 1
			e.PrevHash = ""
		} else {
			e.Seq = last.Seq + 1
			e.PrevHash = last.Hash
		}
		h, err := computeHash(*e)
		if err != nil {
			return err
		}
		e.Hash = h

		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		// The entry must be durable before the controller moves on.
		return f.Sync()
	})
}

// tail returns the last event in the journal, or nil for an empty or absent
// journal.
func (s *Store) tail() (*Event, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var lastLine []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		lastLine = append(lastLine[:0], sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	if len(lastLine) == 0 {
		return nil, nil
	}
	var e Event
	if err := json.Unmarshal(lastLine, &e); err != nil {
		return nil, fmt.Errorf("decode ledger tail: %w", err)
	}
	return &e, nil
}

// #endregion append

// #region read

// Read loads all events in append order with strict per-line decoding. It
// does not verify the chain; pair it with Verify.
func (s *Store) Read() ([]Event, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", lineNo, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return out, nil
}

// ReadVerified loads all events and verifies the chain in one call.
func (s *Store) ReadVerified() ([]Event, error) {
	events, err := s.Read()
	if err != nil {
		return nil, err
	}
	if err := Verify(events); err != nil {
		return nil, err
	}
	return events, nil
}

// #endregion read

// #region verify

// Verify checks sequence continuity and hash-chain integrity over events in
// append order. Any mismatch means the journal was edited, truncated, or
// interleaved.
func Verify(events []Event) error {
	prevHash := ""
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			return &ChainError{Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", i+1)}
		}
		if e.PrevHash != prevHash {
			return &ChainError{Seq: e.Seq, Reason: "prev_hash does not match preceding entry"}
		}
		want, err := computeHash(e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return &ChainError{Seq: e.Seq, Reason: "content hash mismatch"}
		}
		prevHash = e.Hash
	}
	return nil
}

// #endregion verify
