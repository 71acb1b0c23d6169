package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/orchestra-mcp/replication/src/async"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// ErrDocumentExists is returned by Insert when the id is taken.
var ErrDocumentExists = errors.New("document already exists")

const docPrefix = "doc:"

// Store is the document store surface the resolver and the replication
// engine work against.
type Store interface {
	Get(id string) (*Document, error)
	// Update runs fn in one transaction. Only one transaction is open
	// per store at a time; an error from fn abandons every change.
	Update(fn func(tx Txn) error) error
}

// Txn is an open store transaction.
type Txn interface {
	Get(id string) (*Document, error)
	ResolveConflict(doc *Document, winner, loser string, merged types.Body) error
	Save(doc *Document, maxRevTreeDepth int) error
}

// Config holds document store settings.
type Config struct {
	Path            string
	InMemory        bool
	SyncWrites      bool
	MaxRevTreeDepth int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{SyncWrites: true, MaxRevTreeDepth: 20}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, MaxRevTreeDepth: 20}
}

// BadgerStore keeps documents and their revision trees in badger.
type BadgerStore struct {
	db       *badger.DB
	maxDepth int
	writeMu  sync.Mutex

	submit    async.Submitter
	obsMu     sync.RWMutex
	observers map[int]func(ids []string)
	nextObs   int

	logger zerolog.Logger
}

// Option customizes a BadgerStore.
type Option func(*BadgerStore)

// WithSubmitter sets where commit observers run. Observers run inline by default.
func WithSubmitter(s async.Submitter) Option {
	return func(st *BadgerStore) { st.submit = s }
}

// Open opens the store described by cfg.
func Open(cfg Config, logger zerolog.Logger, opts ...Option) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	logger = logger.With().Str("component", "docstore").Logger()
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &BadgerStore{
		db:        db,
		maxDepth:  cfg.MaxRevTreeDepth,
		submit:    async.Inline,
		observers: make(map[int]func([]string)),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Get returns the document with the given id.
func (s *BadgerStore) Get(id string) (*Document, error) {
	var doc *Document
	err := s.db.View(func(btx *badger.Txn) error {
		var err error
		doc, err = readDocument(btx, id)
		return err
	})
	return doc, err
}

// Update implements Store.
func (s *BadgerStore) Update(fn func(tx Txn) error) error {
	tx := &txn{store: s}
	err := func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.db.Update(func(btx *badger.Txn) error {
			tx.btx = btx
			return fn(tx)
		})
	}()
	if err != nil {
		return err
	}
	if len(tx.changed) > 0 {
		s.notify(tx.changed)
	}
	return nil
}

// Insert creates a document with a first revision.
func (s *BadgerStore) Insert(id string, body types.Body) (*Document, error) {
	var doc *Document
	err := s.Update(func(tx Txn) error {
		if _, err := tx.Get(id); err == nil {
			return fmt.Errorf("insert %q: %w", id, ErrDocumentExists)
		} else if !errors.Is(err, types.ErrDocumentNotFound) {
			return err
		}
		doc = &Document{ID: id}
		if _, err := doc.addRevision("", body, false); err != nil {
			return err
		}
		return tx.Save(doc, 0)
	})
	return doc, err
}

// Replace stores body as a new revision on top of the current one.
func (s *BadgerStore) Replace(id string, body types.Body) (*Document, error) {
	return s.appendRevision(id, body, false)
}

// Delete adds a tombstone on top of the current revision.
func (s *BadgerStore) Delete(id string) (*Document, error) {
	return s.appendRevision(id, nil, true)
}

// PutExisting inserts a revision received from a peer. history is newest
// first. The document is created if missing and may become conflicted.
func (s *BadgerStore) PutExisting(id string, history []string, body types.Body) (*Document, error) {
	var doc *Document
	err := s.Update(func(tx Txn) error {
		var err error
		doc, err = tx.Get(id)
		if errors.Is(err, types.ErrDocumentNotFound) {
			doc, err = &Document{ID: id}, nil
		}
		if err != nil {
			return err
		}
		inserted, err := doc.insertHistory(history, body, false)
		if err != nil || !inserted {
			return err
		}
		return tx.Save(doc, 0)
	})
	return doc, err
}

func (s *BadgerStore) appendRevision(id string, body types.Body, deleted bool) (*Document, error) {
	var doc *Document
	err := s.Update(func(tx Txn) error {
		var err error
		if doc, err = tx.Get(id); err != nil {
			return err
		}
		if _, err := doc.addRevision(doc.CurrentRev, body, deleted); err != nil {
			return err
		}
		return tx.Save(doc, 0)
	})
	return doc, err
}

// Observe registers fn to receive the ids changed by each committed
// transaction. The returned function removes the observer.
func (s *BadgerStore) Observe(fn func(ids []string)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObs++
	key := s.nextObs
	s.observers[key] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, key)
	}
}

func (s *BadgerStore) notify(ids []string) {
	s.obsMu.RLock()
	fns := make([]func([]string), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn := fn
		s.submit(func() { fn(ids) })
	}
}

// txn adapts a badger transaction to Txn.
type txn struct {
	store   *BadgerStore
	btx     *badger.Txn
	changed []string
}

func (t *txn) Get(id string) (*Document, error) {
	return readDocument(t.btx, id)
}

func (t *txn) ResolveConflict(doc *Document, winner, loser string, merged types.Body) error {
	return doc.resolveConflict(winner, loser, merged)
}

func (t *txn) Save(doc *Document, maxRevTreeDepth int) error {
	if maxRevTreeDepth <= 0 {
		maxRevTreeDepth = t.store.maxDepth
	}
	doc.prune(maxRevTreeDepth)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %q: %w", doc.ID, err)
	}
	if err := t.btx.Set([]byte(docPrefix+doc.ID), data); err != nil {
		return fmt.Errorf("save %q: %w", doc.ID, err)
	}
	t.changed = append(t.changed, doc.ID)
	return nil
}

func readDocument(btx *badger.Txn, id string) (*Document, error) {
	item, err := btx.Get([]byte(docPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %q: %w", id, types.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", id, err)
	}
	var doc Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", id, err)
	}
	return &doc, nil
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
