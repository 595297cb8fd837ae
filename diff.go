package syncstore

import (
	"sort"
)

// ChangeKind is the kind of one incremental change to a Store's snapshot.
type ChangeKind int

const (
	InsertSection ChangeKind = iota
	DeleteSection
	InsertRow
	UpdateRow
	DeleteRow
)

func (k ChangeKind) String() string {
	switch k {
	case InsertSection:
		return "insertSection"
	case DeleteSection:
		return "deleteSection"
	case InsertRow:
		return "insertRow"
	case UpdateRow:
		return "updateRow"
	case DeleteRow:
		return "deleteRow"
	default:
		return "unknown"
	}
}

// IndexPath addresses one row of a sectioned snapshot.
type IndexPath struct {
	Section int
	Row     int
}

// Change is one incremental change. Section is set for section changes,
// Path for row changes. Deletes and updates use positions in the previous
// snapshot, inserts use positions in the new one. A moved row is a
// DeleteRow at its old path plus an InsertRow at its new path.
type Change struct {
	Kind    ChangeKind
	Section int
	Path    IndexPath
}

// snapshot is the identity layout of a materialized query.
type snapshot struct {
	sections []snapshotSection
	// fingerprints maps entity ID to its encoded payload, to spot updates.
	fingerprints map[string]string
}

type snapshotSection struct {
	name string
	ids  []string
}

func (s snapshot) locate() map[string]IndexPath {
	out := make(map[string]IndexPath, len(s.fingerprints))
	for si, sec := range s.sections {
		for ri, id := range sec.ids {
			out[id] = IndexPath{Section: si, Row: ri}
		}
	}
	return out
}

func (s snapshot) sectionIndex() map[string]int {
	out := make(map[string]int, len(s.sections))
	for i, sec := range s.sections {
		out[sec.name] = i
	}
	return out
}

// diffSnapshots computes the changes turning old into cur. The result lists
// section deletes, section inserts, row deletes, row inserts, then row
// updates, each group in ascending position order.
func diffSnapshots(old, cur snapshot) []Change {
	oldSections, curSections := old.sectionIndex(), cur.sectionIndex()
	oldPaths, curPaths := old.locate(), cur.locate()

	var sectionDeletes, sectionInserts, rowDeletes, rowInserts, rowUpdates []Change

	deletedSection := make(map[int]bool)
	for i, sec := range old.sections {
		if _, ok := curSections[sec.name]; !ok {
			deletedSection[i] = true
			sectionDeletes = append(sectionDeletes, Change{Kind: DeleteSection, Section: i})
		}
	}
	insertedSection := make(map[int]bool)
	for i, sec := range cur.sections {
		if _, ok := oldSections[sec.name]; !ok {
			insertedSection[i] = true
			sectionInserts = append(sectionInserts, Change{Kind: InsertSection, Section: i})
		}
	}

	for id, op := range oldPaths {
		if _, ok := curPaths[id]; ok || deletedSection[op.Section] {
			continue
		}
		rowDeletes = append(rowDeletes, Change{Kind: DeleteRow, Path: op})
	}
	for id, np := range curPaths {
		if _, ok := oldPaths[id]; ok || insertedSection[np.Section] {
			continue
		}
		rowInserts = append(rowInserts, Change{Kind: InsertRow, Path: np})
	}

	// Rows present on both sides: keep the longest run that preserved its
	// relative order within a surviving section, everything else moved.
	for ni, sec := range cur.sections {
		if insertedSection[ni] {
			for _, id := range sec.ids {
				if op, ok := oldPaths[id]; ok && !deletedSection[op.Section] {
					rowDeletes = append(rowDeletes, Change{Kind: DeleteRow, Path: op})
				}
			}
			continue
		}
		oi := oldSections[sec.name]

		var common []string
		var oldRows []int
		for _, id := range sec.ids {
			op, ok := oldPaths[id]
			if !ok {
				continue
			}
			if op.Section != oi {
				if deletedSection[op.Section] {
					rowInserts = append(rowInserts, Change{Kind: InsertRow, Path: curPaths[id]})
				} else {
					rowDeletes = append(rowDeletes, Change{Kind: DeleteRow, Path: op})
					rowInserts = append(rowInserts, Change{Kind: InsertRow, Path: curPaths[id]})
				}
				continue
			}
			common = append(common, id)
			oldRows = append(oldRows, op.Row)
		}

		stable := longestIncreasing(oldRows)
		for i, id := range common {
			if !stable[i] {
				rowDeletes = append(rowDeletes, Change{Kind: DeleteRow, Path: oldPaths[id]})
				rowInserts = append(rowInserts, Change{Kind: InsertRow, Path: curPaths[id]})
				continue
			}
			if old.fingerprints[id] != cur.fingerprints[id] {
				rowUpdates = append(rowUpdates, Change{Kind: UpdateRow, Path: oldPaths[id]})
			}
		}
	}

	sortChanges(rowDeletes)
	sortChanges(rowInserts)
	sortChanges(rowUpdates)

	changes := make([]Change, 0, len(sectionDeletes)+len(sectionInserts)+len(rowDeletes)+len(rowInserts)+len(rowUpdates))
	changes = append(changes, sectionDeletes...)
	changes = append(changes, sectionInserts...)
	changes = append(changes, rowDeletes...)
	changes = append(changes, rowInserts...)
	changes = append(changes, rowUpdates...)
	return changes
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i].Path, changes[j].Path
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Row < b.Row
	})
}

// longestIncreasing marks the members of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []bool {
	marked := make([]bool, len(seq))
	if len(seq) == 0 {
		return marked
	}
	// tails[k] is the index in seq of the smallest tail of an increasing run of length k+1.
	tails := make([]int, 0, len(seq))
	prev := make([]int, len(seq))
	for i, v := range seq {
		k := sort.Search(len(tails), func(j int) bool { return seq[tails[j]] >= v })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		marked[i] = true
	}
	return marked
}
