package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when no session exists for an id or code.
	ErrNotFound = errors.New("session not found")
	// ErrCodeTaken is returned by Create when the generated code already
	// maps to a session.
	ErrCodeTaken = errors.New("code already assigned")
	// ErrCorrupt is returned when a persisted record cannot be decoded.
	ErrCorrupt = errors.New("session store corrupt")
)

const (
	sessionPrefix     = "session:"
	codePrefix        = "code:"
	fingerprintPrefix = "fp:"
)

const lockStripes = 64

// Store wraps BadgerDB for session records plus the code and fingerprint
// indices. Every mutation is a full read-modify-write of one session
// record; a striped lock keyed by session id serializes writers to the
// same session so no chunk acknowledgement is lost, while sessions on
// different stripes proceed in parallel.
type Store struct {
	db    *badger.DB
	locks [lockStripes]sync.Mutex
}

// Open opens (or creates) a BadgerDB at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (st *Store) Close() error {
	return st.db.Close()
}

func (st *Store) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &st.locks[h.Sum32()%lockStripes]
}

// Get retrieves a session by id.
func (st *Store) Get(id string) (*Session, error) {
	var sess *Session
	err := st.db.View(func(txn *badger.Txn) error {
		var err error
		sess, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetByCode retrieves a session through the code index.
func (st *Store) GetByCode(code string) (*Session, error) {
	var sess *Session
	err := st.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(codePrefix + code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read code index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read code index: %w", err)
		}
		sess, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// FindByFingerprint returns the newest incomplete session recorded for a
// client fingerprint. The fingerprint index is a convenience for browsers
// rediscovering an interrupted upload, not a security boundary.
func (st *Store) FindByFingerprint(fingerprint string) (*Session, error) {
	var sess *Session
	err := st.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprintPrefix + fingerprint))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read fingerprint index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read fingerprint index: %w", err)
		}
		sess, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sess.Complete {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Create persists a new session and claims its code in the code index.
// The uniqueness check and the writes happen in one transaction; callers
// retry with a fresh code on ErrCodeTaken.
func (st *Store) Create(sess *Session) error {
	mu := st.stripe(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	err := st.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(codePrefix + sess.Code))
		if err == nil {
			return ErrCodeTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check code index: %w", err)
		}
		if err := putSession(txn, sess); err != nil {
			return err
		}
		if err := txn.Set([]byte(codePrefix+sess.Code), []byte(sess.ID)); err != nil {
			return fmt.Errorf("failed to write code index: %w", err)
		}
		if sess.Fingerprint != "" {
			if err := txn.Set([]byte(fingerprintPrefix+sess.Fingerprint), []byte(sess.ID)); err != nil {
				return fmt.Errorf("failed to write fingerprint index: %w", err)
			}
		}
		return nil
	})
	// Two creates racing on the same code run on different lock stripes;
	// badger's conflict detection catches that case, and the loser retries
	// with a fresh code just like a direct collision.
	if errors.Is(err, badger.ErrConflict) {
		return ErrCodeTaken
	}
	return err
}

// Update applies fn to the current state of a session and persists the
// result atomically. Concurrent updates to the same session serialize on
// its lock stripe; an error from fn aborts the update and nothing is
// persisted. The updated session is returned.
func (st *Store) Update(id string, fn func(*Session) error) (*Session, error) {
	mu := st.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	var sess *Session
	err := st.db.Update(func(txn *badger.Txn) error {
		var err error
		sess, err = getSession(txn, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		return putSession(txn, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func getSession(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get([]byte(sessionPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	var sess Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	}); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrCorrupt, id, err)
	}
	return &sess, nil
}

func putSession(txn *badger.Txn, sess *Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := txn.Set([]byte(sessionPrefix+sess.ID), val); err != nil {
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	return nil
}
