// Package diff computes ordered attribute changes between two snapshots.
package diff

import (
	"sort"

	"straznik/internal/snapshot"
)

type Section int

const (
	SectionScalar Section = iota
	SectionSet
	SectionOverwrite
)

type Kind int

const (
	Changed Kind = iota
	Added
	Removed
	SetAdded
	SetRemoved
	OverwriteAdded
	OverwriteRemoved
	AllowAdded
	AllowRemoved
	DenyAdded
	DenyRemoved
)

var kindNames = [...]string{
	"changed", "added", "removed", "set_added", "set_removed",
	"overwrite_added", "overwrite_removed",
	"allow_added", "allow_removed", "deny_added", "deny_removed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Change is one detected difference.
//
// Scalars fill Old/New. Set and overwrite deltas fill Entries. Overwrite
// changes also carry the subject id and its kind.
type Change struct {
	Section     Section
	Kind        Kind
	Attr        string
	Subject     string
	SubjectKind snapshot.SubjectKind
	Old         string
	New         string
	Entries     []string
}

// scalarRank orders well-known scalars the way records list them.
var scalarRank = map[string]int{
	snapshot.AttrName:    0,
	snapshot.AttrColor:   1,
	snapshot.AttrChannel: 2,
	snapshot.AttrAuthor:  3,
	snapshot.AttrContent: 4,
	snapshot.AttrMute:    5,
	snapshot.AttrDeaf:    6,
}

// Diff returns the changes turning before into after. A nil snapshot is
// treated as empty. The result is ordered by section (scalars, sets,
// overwrites), then attribute, then subject id, and is empty iff the two
// snapshots are equal.
func Diff(before, after *snapshot.Snapshot) []Change {
	if before == nil {
		before = snapshot.New()
	}
	if after == nil {
		after = snapshot.New()
	}
	var out []Change
	out = append(out, diffScalars(before.Scalars, after.Scalars)...)
	out = append(out, diffSets(before.Sets, after.Sets)...)
	out = append(out, diffOverwrites(before.Overwrites, after.Overwrites)...)
	return out
}

func diffScalars(before, after map[string]string) []Change {
	keys := unionKeys(before, after)
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := scalarRank[keys[i]]
		rj, jok := scalarRank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})

	var out []Change
	for _, k := range keys {
		old, inBefore := before[k]
		nv, inAfter := after[k]
		switch {
		case inBefore && inAfter:
			if old != nv {
				out = append(out, Change{Section: SectionScalar, Kind: Changed, Attr: k, Old: old, New: nv})
			}
		case inAfter:
			out = append(out, Change{Section: SectionScalar, Kind: Added, Attr: k, New: nv})
		default:
			out = append(out, Change{Section: SectionScalar, Kind: Removed, Attr: k, Old: old})
		}
	}
	return out
}

func diffSets(before, after map[string][]string) []Change {
	keys := unionKeys(before, after)
	sort.Strings(keys)
	var out []Change
	for _, k := range keys {
		added, removed := Delta(before[k], after[k])
		if len(added) > 0 {
			out = append(out, Change{Section: SectionSet, Kind: SetAdded, Attr: k, Entries: added})
		}
		if len(removed) > 0 {
			out = append(out, Change{Section: SectionSet, Kind: SetRemoved, Attr: k, Entries: removed})
		}
	}
	return out
}

func diffOverwrites(before, after map[string]snapshot.Overwrite) []Change {
	ids := unionKeys(before, after)
	sort.Strings(ids)
	var out []Change
	for _, id := range ids {
		b, inBefore := before[id]
		a, inAfter := after[id]
		switch {
		case inAfter && !inBefore:
			out = append(out, Change{Section: SectionOverwrite, Kind: OverwriteAdded, Subject: id, SubjectKind: a.Kind})
		case inBefore && !inAfter:
			out = append(out, Change{Section: SectionOverwrite, Kind: OverwriteRemoved, Subject: id, SubjectKind: b.Kind})
		default:
			out = append(out, overwriteDelta(id, b, a)...)
		}
	}
	return out
}

func overwriteDelta(id string, b, a snapshot.Overwrite) []Change {
	var out []Change
	add := func(kind Kind, entries []string) {
		if len(entries) > 0 {
			out = append(out, Change{Section: SectionOverwrite, Kind: kind, Subject: id, SubjectKind: a.Kind, Entries: entries})
		}
	}
	allowAdded, allowRemoved := Delta(b.Allow, a.Allow)
	denyAdded, denyRemoved := Delta(b.Deny, a.Deny)
	add(AllowAdded, allowAdded)
	add(AllowRemoved, allowRemoved)
	add(DenyAdded, denyAdded)
	add(DenyRemoved, denyRemoved)
	return out
}

// Delta returns after∖before (in after order) and before∖after (in before order).
func Delta(before, after []string) (added, removed []string) {
	inBefore := make(map[string]struct{}, len(before))
	for _, v := range before {
		inBefore[v] = struct{}{}
	}
	inAfter := make(map[string]struct{}, len(after))
	for _, v := range after {
		inAfter[v] = struct{}{}
		if _, ok := inBefore[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range before {
		if _, ok := inAfter[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}

// Apply replays a set-style change onto before: removed entries are dropped,
// added entries appended. Other kinds return before unchanged.
func Apply(before []string, c Change) []string {
	switch c.Kind {
	case SetAdded, AllowAdded, DenyAdded:
		out := append([]string(nil), before...)
		for _, e := range c.Entries {
			if !contains(out, e) {
				out = append(out, e)
			}
		}
		return out
	case SetRemoved, AllowRemoved, DenyRemoved:
		out := make([]string, 0, len(before))
		for _, v := range before {
			if !contains(c.Entries, v) {
				out = append(out, v)
			}
		}
		return out
	}
	return before
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
