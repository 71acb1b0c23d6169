package docstore

import (
	"errors"
	"sync"
	"testing"

	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(InMemoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// conflicted creates doc with two divergent second-generation leaves.
func conflicted(t *testing.T, s *BadgerStore, id string, ours, theirs types.Body) *Document {
	t.Helper()
	doc, err := s.Insert(id, types.Body{"foo": "base"})
	require.NoError(t, err)
	base := doc.CurrentRev

	_, err = s.Replace(id, ours)
	require.NoError(t, err)

	remote := newRevID(base, theirs, false)
	doc, err = s.PutExisting(id, []string{remote, base}, theirs)
	require.NoError(t, err)
	require.True(t, doc.Conflicted())
	return doc
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("doc1", types.Body{"foo": "bar"})
	require.NoError(t, err)

	doc, err := s.Get("doc1")
	require.NoError(t, err)
	assert.Equal(t, types.Body{"foo": "bar"}, doc.Body())
	assert.False(t, doc.Conflicted())
	assert.Nil(t, doc.Conflicts())
	assert.Equal(t, 1, generation(doc.CurrentRev))
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("doc1", types.Body{})
	require.NoError(t, err)
	_, err = s.Insert("doc1", types.Body{})
	assert.ErrorIs(t, err, ErrDocumentExists)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)
}

func TestReplaceAndDelete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("doc1", types.Body{"n": float64(1)})
	require.NoError(t, err)

	doc, err := s.Replace("doc1", types.Body{"n": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, generation(doc.CurrentRev))
	assert.Len(t, doc.History(doc.CurrentRev), 2)

	doc, err = s.Delete("doc1")
	require.NoError(t, err)
	assert.True(t, doc.Deleted())
}

func TestPutExistingCreatesConflict(t *testing.T) {
	s := newTestStore(t)
	doc := conflicted(t, s, "doc1", types.Body{"foo": "bar"}, types.Body{"foo": "buz"})

	conflicts := doc.Conflicts()
	require.Len(t, conflicts, 2)
	assert.Equal(t, doc.CurrentRev, conflicts[0].RevID)

	again, err := s.PutExisting("doc1", doc.History(conflicts[1].RevID), conflicts[1].Body)
	require.NoError(t, err)
	assert.Len(t, again.Revisions, len(doc.Revisions))
}

func TestLiveRevisionBeatsTombstone(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Insert("doc1", types.Body{"v": "a"})
	require.NoError(t, err)
	base := doc.CurrentRev

	_, err = s.Delete("doc1")
	require.NoError(t, err)
	live := newRevID(base, types.Body{"v": "b"}, false)
	doc, err = s.PutExisting("doc1", []string{live, base}, types.Body{"v": "b"})
	require.NoError(t, err)

	assert.Equal(t, live, doc.CurrentRev)
	assert.False(t, doc.Deleted())
}

func TestUpdateErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("doc1", types.Body{"v": "a"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Update(func(tx Txn) error {
		doc, err := tx.Get("doc1")
		if err != nil {
			return err
		}
		if _, err := doc.addRevision(doc.CurrentRev, types.Body{"v": "b"}, false); err != nil {
			return err
		}
		if err := tx.Save(doc, 0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := s.Get("doc1")
	require.NoError(t, err)
	assert.Equal(t, types.Body{"v": "a"}, doc.Body())
}

func TestSavePrunesRevisionTree(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("doc1", types.Body{"n": float64(0)})
	require.NoError(t, err)
	for i := 1; i < 10; i++ {
		_, err = s.Replace("doc1", types.Body{"n": float64(i)})
		require.NoError(t, err)
	}

	err = s.Update(func(tx Txn) error {
		doc, err := tx.Get("doc1")
		if err != nil {
			return err
		}
		return tx.Save(doc, 3)
	})
	require.NoError(t, err)

	doc, err := s.Get("doc1")
	require.NoError(t, err)
	assert.Len(t, doc.Revisions, 3)
	assert.Len(t, doc.History(doc.CurrentRev), 3)
	assert.Equal(t, types.Body{"n": float64(9)}, doc.Body())
}

func TestObserveCommittedChanges(t *testing.T) {
	s := newTestStore(t)
	var mu sync.Mutex
	var seen []string
	cancel := s.Observe(func(ids []string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ids...)
	})

	_, err := s.Insert("doc1", types.Body{})
	require.NoError(t, err)
	_ = s.Update(func(tx Txn) error { return errors.New("abandon") })
	cancel()
	_, err = s.Insert("doc2", types.Body{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"doc1"}, seen)
}

func TestResolveConflictRejectsUnknownLeaf(t *testing.T) {
	doc := &Document{ID: "doc1"}
	_, err := doc.addRevision("", types.Body{"a": "b"}, false)
	require.NoError(t, err)

	err = doc.resolveConflict(doc.CurrentRev, "2-missing", nil)
	var cre *types.ConflictResolutionError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, "2-missing", cre.RevID)
}
