// Package conflict collapses the divergent leaf revisions of a document
// into a single surviving revision.
package conflict

import (
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/metrics"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// MergeFunc picks or builds the body that survives a pair of conflicting
// leaves. Returning ours or theirs unchanged keeps that revision; any other
// body is stored as a new merged revision.
type MergeFunc func(ours, theirs types.Body) types.Body

// Resolver resolves document conflicts inside single store transactions.
type Resolver struct {
	store           docstore.Store
	maxRevTreeDepth int
	logger          zerolog.Logger
}

// New creates a resolver that saves with the given revision tree depth.
func New(store docstore.Store, maxRevTreeDepth int, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:           store,
		maxRevTreeDepth: maxRevTreeDepth,
		logger:          logger.With().Str("component", "conflict-resolver").Logger(),
	}
}

// Conflicts returns the leaf revisions of docID, current revision first,
// or nothing when the document is not in conflict.
func (r *Resolver) Conflicts(docID string) ([]docstore.Snapshot, error) {
	doc, err := r.store.Get(docID)
	if err != nil {
		return nil, err
	}
	return doc.Conflicts(), nil
}

// Resolve walks the leaves of docID starting from the current revision and
// lets merge decide each pair. Resolving an unconflicted document is a no-op.
func (r *Resolver) Resolve(docID string, merge MergeFunc) error {
	err := r.store.Update(func(tx docstore.Txn) error {
		doc, err := tx.Get(docID)
		if err != nil {
			return err
		}
		if !doc.Conflicted() {
			return nil
		}

		for doc.Conflicted() {
			leaves := doc.Conflicts()
			ours, theirs := leaves[0], leaves[1]

			winner, loser, merged, err := decide(docID, ours, theirs, merge(ours.Body, theirs.Body))
			if err != nil {
				return err
			}
			if err := tx.ResolveConflict(doc, winner, loser, merged); err != nil {
				return err
			}
			r.logger.Debug().
				Str("doc_id", docID).
				Str("winner", winner).
				Str("loser", loser).
				Bool("merged", merged != nil).
				Msg("resolved pair")
		}
		return tx.Save(doc, r.maxRevTreeDepth)
	})
	r.record(docID, err)
	return err
}

// ResolveWith collapses the leaves listed in revIDs, already read by the
// caller. Each step marks the prior winner as losing against the next id,
// so the last id survives. A non-nil merged is saved as a child of that
// revision; nil keeps its body.
func (r *Resolver) ResolveWith(docID string, revIDs []string, merged types.Body) error {
	err := r.store.Update(func(tx docstore.Txn) error {
		doc, err := tx.Get(docID)
		if err != nil {
			return err
		}
		if !doc.Conflicted() {
			return nil
		}
		if len(revIDs) < 2 {
			return &types.ConflictResolutionError{DocID: docID, Reason: "at least two revisions are required"}
		}

		winner := revIDs[0]
		for i, next := range revIDs[1:] {
			var body types.Body
			if i == len(revIDs)-2 {
				body = merged
			}
			if err := tx.ResolveConflict(doc, next, winner, body); err != nil {
				return err
			}
			winner = doc.CurrentRev
		}
		if doc.Conflicted() {
			return &types.ConflictResolutionError{DocID: docID, Reason: "unresolved leaf revisions remain"}
		}
		return tx.Save(doc, r.maxRevTreeDepth)
	})
	r.record(docID, err)
	return err
}

func (r *Resolver) record(docID string, err error) {
	if err != nil {
		metrics.RecordConflictResolution("failed")
		r.logger.Warn().Err(err).Str("doc_id", docID).Msg("conflict resolution abandoned")
		return
	}
	metrics.RecordConflictResolution("ok")
}

// decide maps the merge result onto winning and losing revisions.
func decide(docID string, ours, theirs docstore.Snapshot, result types.Body) (string, string, types.Body, error) {
	switch {
	case result == nil:
		return "", "", nil, &types.ConflictResolutionError{
			DocID:  docID,
			RevID:  ours.RevID,
			Reason: "merge function returned no body",
		}
	case result.Equal(ours.Body):
		return ours.RevID, theirs.RevID, nil, nil
	case result.Equal(theirs.Body):
		return theirs.RevID, ours.RevID, nil, nil
	default:
		return ours.RevID, theirs.RevID, result, nil
	}
}
