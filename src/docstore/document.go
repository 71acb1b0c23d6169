package docstore

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/orchestra-mcp/replication/src/types"
)

// Revision is one node of a document's revision tree.
type Revision struct {
	ID      string     `json:"id"`
	Parent  string     `json:"parent,omitempty"`
	Body    types.Body `json:"body,omitempty"`
	Deleted bool       `json:"deleted,omitempty"`
}

// Snapshot is a leaf revision returned by Conflicts.
type Snapshot struct {
	RevID string     `json:"rev_id"`
	Body  types.Body `json:"body"`
}

// Document is a versioned document with its revision tree.
type Document struct {
	ID         string      `json:"id"`
	CurrentRev string      `json:"current_rev"`
	Revisions  []*Revision `json:"revisions"`
}

// Body returns the body of the current revision.
func (d *Document) Body() types.Body {
	if r := d.revision(d.CurrentRev); r != nil {
		return r.Body
	}
	return nil
}

// Deleted reports whether the current revision is a tombstone.
func (d *Document) Deleted() bool {
	r := d.revision(d.CurrentRev)
	return r != nil && r.Deleted
}

// Conflicted reports whether the document has more than one leaf.
func (d *Document) Conflicted() bool {
	return len(d.Leaves()) > 1
}

// Leaves returns the revisions that have no children, sorted by id.
func (d *Document) Leaves() []*Revision {
	parents := make(map[string]bool, len(d.Revisions))
	for _, r := range d.Revisions {
		if r.Parent != "" {
			parents[r.Parent] = true
		}
	}
	leaves := make([]*Revision, 0, 1)
	for _, r := range d.Revisions {
		if !parents[r.ID] {
			leaves = append(leaves, r)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ID < leaves[j].ID })
	return leaves
}

// Conflicts returns the leaf revisions, current revision first.
// It is empty when the document is not in conflict.
func (d *Document) Conflicts() []Snapshot {
	leaves := d.Leaves()
	if len(leaves) < 2 {
		return nil
	}
	out := make([]Snapshot, 0, len(leaves))
	if cur := d.revision(d.CurrentRev); cur != nil {
		out = append(out, Snapshot{RevID: cur.ID, Body: cur.Body})
	}
	for _, r := range leaves {
		if r.ID != d.CurrentRev {
			out = append(out, Snapshot{RevID: r.ID, Body: r.Body})
		}
	}
	return out
}

// History returns the ancestry of revID, newest first.
func (d *Document) History(revID string) []string {
	var history []string
	for r := d.revision(revID); r != nil; r = d.revision(r.Parent) {
		history = append(history, r.ID)
	}
	return history
}

func (d *Document) revision(id string) *Revision {
	if id == "" {
		return nil
	}
	for _, r := range d.Revisions {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (d *Document) isLeaf(id string) bool {
	if d.revision(id) == nil {
		return false
	}
	for _, r := range d.Revisions {
		if r.Parent == id {
			return false
		}
	}
	return true
}

// addRevision appends a child of parent and makes the winning leaf current.
func (d *Document) addRevision(parent string, body types.Body, deleted bool) (*Revision, error) {
	if parent != "" && !d.isLeaf(parent) {
		return nil, fmt.Errorf("revision %s of %q is not a leaf", parent, d.ID)
	}
	rev := &Revision{
		ID:      newRevID(parent, body, deleted),
		Parent:  parent,
		Body:    body,
		Deleted: deleted,
	}
	d.Revisions = append(d.Revisions, rev)
	d.selectCurrent()
	return rev, nil
}

// selectCurrent picks the deterministic winner among the leaves: the
// highest generation, ties broken by the greater revision id.
func (d *Document) selectCurrent() {
	var best *Revision
	for _, r := range d.Leaves() {
		if best == nil || revisionWins(r, best) {
			best = r
		}
	}
	if best != nil {
		d.CurrentRev = best.ID
	}
}

func revisionWins(a, b *Revision) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted
	}
	ga, gb := generation(a.ID), generation(b.ID)
	if ga != gb {
		return ga > gb
	}
	return a.ID > b.ID
}

// resolveConflict keeps winner, purges the branch ending at loser and,
// when merged is non-nil, stores merged as a new child of winner.
func (d *Document) resolveConflict(winner, loser string, merged types.Body) error {
	if winner == loser {
		return &types.ConflictResolutionError{DocID: d.ID, RevID: winner, Reason: "winner and loser are the same revision"}
	}
	if !d.isLeaf(winner) {
		return &types.ConflictResolutionError{DocID: d.ID, RevID: winner, Reason: "winning revision is not a live leaf"}
	}
	if !d.isLeaf(loser) {
		return &types.ConflictResolutionError{DocID: d.ID, RevID: loser, Reason: "losing revision is not a live leaf"}
	}

	d.purgeBranch(loser)
	d.CurrentRev = winner

	if merged != nil {
		rev, err := d.addRevision(winner, merged, false)
		if err != nil {
			return &types.ConflictResolutionError{DocID: d.ID, RevID: winner, Reason: err.Error()}
		}
		d.CurrentRev = rev.ID
	}
	return nil
}

// purgeBranch removes leaf and every ancestor that no other revision descends from.
func (d *Document) purgeBranch(leaf string) {
	for id := leaf; id != ""; {
		r := d.revision(id)
		if r == nil || !d.isLeaf(id) {
			return
		}
		d.remove(id)
		id = r.Parent
	}
}

func (d *Document) remove(id string) {
	kept := d.Revisions[:0]
	for _, r := range d.Revisions {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	d.Revisions = kept
}

// prune drops ancestors deeper than depth from every leaf. Zero keeps everything.
func (d *Document) prune(depth int) {
	if depth <= 0 {
		return
	}
	keep := make(map[string]bool, len(d.Revisions))
	for _, leaf := range d.Leaves() {
		r := leaf
		for i := 0; i < depth && r != nil; i++ {
			keep[r.ID] = true
			r = d.revision(r.Parent)
		}
	}
	kept := d.Revisions[:0]
	for _, r := range d.Revisions {
		if keep[r.ID] {
			kept = append(kept, r)
		}
	}
	d.Revisions = kept
	for _, r := range d.Revisions {
		if r.Parent != "" && !keep[r.Parent] {
			r.Parent = ""
		}
	}
}

// insertHistory adds a replicated revision. history is newest first: the
// new revision id followed by its ancestors. Unknown ancestors are added
// without bodies. The parent need not be a leaf, so this may create a conflict.
func (d *Document) insertHistory(history []string, body types.Body, deleted bool) (bool, error) {
	if len(history) == 0 || history[0] == "" {
		return false, fmt.Errorf("insert into %q: empty revision history", d.ID)
	}
	if d.revision(history[0]) != nil {
		return false, nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		id := history[i]
		if generation(id) == 0 {
			return false, fmt.Errorf("insert into %q: malformed revision id %q", d.ID, id)
		}
		if d.revision(id) != nil {
			continue
		}
		parent := ""
		if i+1 < len(history) {
			parent = history[i+1]
		}
		rev := &Revision{ID: id, Parent: parent}
		if i == 0 {
			rev.Body = body
			rev.Deleted = deleted
		}
		d.Revisions = append(d.Revisions, rev)
	}
	d.selectCurrent()
	return true, nil
}

func generation(revID string) int {
	prefix, _, ok := strings.Cut(revID, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

func newRevID(parent string, body types.Body, deleted bool) string {
	data, _ := json.Marshal(body)
	h := sha1.New()
	h.Write([]byte(parent))
	h.Write(data)
	if deleted {
		h.Write([]byte{1})
	}
	return strconv.Itoa(generation(parent)+1) + "-" + hex.EncodeToString(h.Sum(nil))
}
