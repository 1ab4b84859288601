package parsing

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/rmagee/quartet-epcis/internal/epcis"
	"github.com/rmagee/quartet-epcis/internal/ledger"
)

// pack attaches the eligible children to the parent and re-derives the
// containment root for every pre-existing descendant of those children.
//
// Eligibility is all-or-nothing: a child that is unknown, retired,
// already packed, or equal to the parent fails the whole event with the
// offending identifiers named.
func (b *BusinessParser) pack(ctx context.Context, ev *epcis.Event) error {
	parent, err := b.resolveEntry(ctx, ev.EventID, ev.ParentID)
	if err != nil {
		return err
	}
	children, err := b.eligibleChildren(ctx, ev)
	if err != nil {
		return err
	}
	// An eligible child is always a tree root, so the only ancestor of
	// the parent it can be is the parent's own containment root. Packing
	// that root under the parent would close a cycle.
	if parent.TopID != nil {
		var offending []string
		for _, child := range children {
			if child.ID == *parent.TopID {
				offending = append(offending, child.Identifier)
			}
		}
		if len(offending) > 0 {
			return NewInvalidAggregationError(ev.EventID,
				"children contain an ancestor of the parent", offending)
		}
	}
	record := b.appendEvent(ev)
	if err := checkEventOrder(parent, record); err != nil {
		return err
	}
	for _, child := range children {
		if err := checkEventOrder(child, record); err != nil {
			return err
		}
	}

	// the root of the tree the children are joining
	top := parent.ID
	if parent.TopID != nil {
		top = *parent.TopID
	}

	var subtrees []*ledger.Entry
	for _, child := range children {
		child.ParentID = &parent.ID
		t := top
		child.TopID = &t
		b.stampEntry(child, record)
		b.stampAggregation(child, record)
		b.recordEntryEvent(child, record, false, false)
		if child.IsParent {
			subtrees = append(subtrees, child)
		}
	}
	if err := b.updateSubtreeTops(ctx, subtrees, top); err != nil {
		return err
	}

	parent.IsParent = true
	b.stampEntry(parent, record)
	b.stampAggregation(parent, record)
	b.recordEntryEvent(parent, record, true, false)
	slog.Debug("entries packed",
		"event", record.ID,
		"parent", parent.Identifier,
		"children", len(children))
	return nil
}

// unpack detaches children from the parent. With an explicit child list
// only those children are detached, from whatever parent they currently
// have. With no child list every current child is detached and the
// parent subtree dissolves.
//
// A detached child becomes a new root; its own descendants are re-keyed
// to it. Unpacking a parent with zero children is a valid no-op that
// still stamps the parent.
func (b *BusinessParser) unpack(ctx context.Context, ev *epcis.Event) error {
	parent, err := b.resolveEntry(ctx, ev.EventID, ev.ParentID)
	if err != nil {
		return err
	}

	var children []*ledger.Entry
	if len(ev.ChildEPCs) > 0 {
		// Listed children are detached from wherever they currently sit,
		// membership under the named parent is not checked.
		children, err = b.resolveEntries(ctx, ev.EventID, ev.ChildEPCs)
		if err != nil {
			return err
		}
	} else {
		children, err = b.currentChildren(ctx, []*ledger.Entry{parent})
		if err != nil {
			return err
		}
	}

	record := b.appendEvent(ev)
	if err := checkEventOrder(parent, record); err != nil {
		return err
	}
	for _, c := range children {
		if err := checkEventOrder(c, record); err != nil {
			return err
		}
	}
	for _, c := range children {
		c.ParentID = nil
		c.TopID = nil
		b.stampEntry(c, record)
		b.stampAggregation(c, record)
		b.recordEntryEvent(c, record, false, false)
		if c.IsParent {
			if err := b.updateSubtreeTops(ctx, []*ledger.Entry{c}, c.ID); err != nil {
				return err
			}
		}
	}
	b.stampEntry(parent, record)
	b.stampAggregation(parent, record)
	b.recordEntryEvent(parent, record, true, false)
	slog.Debug("entries unpacked",
		"event", record.ID,
		"parent", parent.Identifier,
		"children", len(children))
	return nil
}

// observeAggregation validates that every referenced identifier resolves
// and records the associations. No entry is mutated: observation does
// not alter custody, and unresolved identifiers are never commissioned
// on the fly.
func (b *BusinessParser) observeAggregation(ctx context.Context, ev *epcis.Event) error {
	var parent *ledger.Entry
	var err error
	if ev.ParentID != "" {
		parent, err = b.resolveEntry(ctx, ev.EventID, ev.ParentID)
		if err != nil {
			return err
		}
	}
	children, err := b.resolveEntries(ctx, ev.EventID, ev.ChildEPCs)
	if err != nil {
		return err
	}
	record := b.appendEvent(ev)
	for _, c := range children {
		b.recordEntryEvent(c, record, false, false)
	}
	if parent != nil {
		b.recordEntryEvent(parent, record, true, false)
	}
	return nil
}

// decommission retires the named entries. In recursive mode their
// transitive descendants are retired first, deepest level first, so no
// child ever appears structurally valid under an already-retired parent
// within the flushed state.
func (b *BusinessParser) decommission(ctx context.Context, ev *epcis.Event, identifiers []string) error {
	entries, err := b.resolveEntries(ctx, ev.EventID, identifiers)
	if err != nil {
		return err
	}
	record := b.appendEvent(ev)
	for _, e := range entries {
		if err := checkEventOrder(e, record); err != nil {
			return err
		}
	}
	if b.recursiveDecommission {
		if err := b.decommissionDescendants(ctx, entries, record); err != nil {
			return err
		}
	}
	for _, e := range entries {
		b.retire(e, record)
		b.recordEntryEvent(e, record, false, false)
	}
	slog.Debug("entries decommissioned", "event", record.ID, "count", len(entries))
	return nil
}

// decommissionDescendants collects the descendants of roots level by
// level, then retires them deepest level first. Implicitly retired
// descendants are not associated with the event; only the named entries
// get entry events.
func (b *BusinessParser) decommissionDescendants(ctx context.Context, roots []*ledger.Entry, record *ledger.Event) error {
	var levels [][]*ledger.Entry
	frontier := roots
	for len(frontier) > 0 {
		children, err := b.currentChildren(ctx, frontier)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			break
		}
		levels = append(levels, children)
		frontier = children
	}
	for i := len(levels) - 1; i >= 0; i-- {
		for _, c := range levels[i] {
			b.retire(c, record)
		}
	}
	return nil
}

// retire marks the entry terminal and moves it out of the active working
// set so later events in the same run can no longer resolve it.
func (b *BusinessParser) retire(e *ledger.Entry, record *ledger.Event) {
	b.stampEntry(e, record)
	e.Decommissioned = true
	delete(b.entryCache, e.Identifier)
	b.decommissionedCache[e.Identifier] = e
}

// eligibleChildren resolves the event's child list to entries eligible
// for packing: commissioned, active, currently unpacked, and distinct
// from the parent. Duplicated identifiers in the list collapse to one.
// Any ineligible identifier fails the event, naming all of them.
func (b *BusinessParser) eligibleChildren(ctx context.Context, ev *epcis.Event) ([]*ledger.Entry, error) {
	resolved := make(map[string]*ledger.Entry, len(ev.ChildEPCs))
	var offending []string
	var need []string
	seen := make(map[string]bool, len(ev.ChildEPCs))
	for _, id := range ev.ChildEPCs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if id == ev.ParentID {
			offending = append(offending, id)
			continue
		}
		if _, ok := b.decommissionedCache[id]; ok {
			offending = append(offending, id)
			continue
		}
		if e, ok := b.entryCache[id]; ok {
			if e.ParentID != nil {
				offending = append(offending, id)
				continue
			}
			resolved[id] = e
			continue
		}
		need = append(need, id)
	}
	if len(need) > 0 {
		rows, err := b.tx.UnpackedEntriesByIdentifiers(ctx, need, true)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			resolved[e.Identifier] = e
			b.entryCache[e.Identifier] = e
		}
		for _, id := range need {
			if _, ok := resolved[id]; !ok {
				offending = append(offending, id)
			}
		}
	}
	if len(offending) > 0 {
		return nil, NewInvalidAggregationError(ev.EventID,
			"children are not eligible for packing", offending)
	}

	out := make([]*ledger.Entry, 0, len(resolved))
	emitted := make(map[string]bool, len(resolved))
	for _, id := range ev.ChildEPCs {
		if emitted[id] {
			continue
		}
		emitted[id] = true
		out = append(out, resolved[id])
	}
	return out, nil
}

// currentChildren returns the active direct children of the given
// parents, merging stored rows with the run's working set. Working-set
// copies supersede their stored rows, so children attached or detached
// earlier in the run are reflected.
func (b *BusinessParser) currentChildren(ctx context.Context, parents []*ledger.Entry) ([]*ledger.Entry, error) {
	ids := make([]uuid.UUID, 0, len(parents))
	parentSet := make(map[uuid.UUID]bool, len(parents))
	for _, p := range parents {
		ids = append(ids, p.ID)
		parentSet[p.ID] = true
	}
	rows, err := b.tx.ChildrenOf(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	var out []*ledger.Entry
	included := make(map[string]bool)
	for _, row := range rows {
		if _, ok := b.entryCache[row.Identifier]; ok {
			continue
		}
		if _, ok := b.decommissionedCache[row.Identifier]; ok {
			continue
		}
		b.entryCache[row.Identifier] = row
		out = append(out, row)
		included[row.Identifier] = true
	}
	for _, e := range b.entryCache {
		if included[e.Identifier] {
			continue
		}
		if e.ParentID != nil && parentSet[*e.ParentID] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// updateSubtreeTops re-derives the containment root for every descendant
// of the given subtree roots, walking level by level over an explicit
// worklist rather than the call stack. A node that reappears on the
// worklist means the stored pointers contain a cycle; the walk skips it
// so a corrupted tree cannot stall the run while it holds row locks.
func (b *BusinessParser) updateSubtreeTops(ctx context.Context, roots []*ledger.Entry, top uuid.UUID) error {
	visited := make(map[uuid.UUID]bool)
	frontier := roots
	for len(frontier) > 0 {
		pending := make([]*ledger.Entry, 0, len(frontier))
		for _, e := range frontier {
			if visited[e.ID] {
				continue
			}
			visited[e.ID] = true
			pending = append(pending, e)
		}
		if len(pending) == 0 {
			return nil
		}
		children, err := b.currentChildren(ctx, pending)
		if err != nil {
			return err
		}
		var next []*ledger.Entry
		for _, c := range children {
			t := top
			c.TopID = &t
			c.Modified = b.now()
			if c.IsParent {
				next = append(next, c)
			}
		}
		frontier = next
	}
	return nil
}
