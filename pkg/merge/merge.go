// Package merge implements the Merge Engine: a deterministic,
// tree-structured merge of two JSONL entry sequences representing the
// same session, keyed by uuid/parentUuid with a timestamp tiebreak. This
// is the centerpiece of the sync core — a naive line-wise three-way merge
// would both lose branches and corrupt entries edited on both sides, so
// the engine builds the conversation's actual tree and walks it instead.
package merge

import (
	"bytes"
	"sort"
	"time"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/session"
)

// DefaultMaxEntries bounds the tree size; a pre-order traversal exceeding
// twice this many entries aborts the merge as a SizeExceeded hazard rather
// than risk unbounded memory use on a corrupted or adversarial file.
const DefaultMaxEntries = 200_000

// Options configures one merge attempt.
type Options struct {
	MaxEntries int // 0 uses DefaultMaxEntries
}

// Stats summarizes a successful merge.
type Stats struct {
	LocalEntries  int
	RemoteEntries int
	TotalEntries  int
	BranchCount int // number of parents with more than one child
}

// Merge deterministically merges local and remote entry sequences for the
// session identified by sessionID (used only to annotate hazard errors).
// On success it returns the merged sequence and summary stats. On a
// hazard it returns a *corerr.Error with Kind MergeHazard.
func Merge(sessionID string, local, remote []session.Entry, opts Options) ([]session.Entry, Stats, error) {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	lUUID, lIndex, lNonUUID := partition(local)
	rUUID, rIndex, rNonUUID := partition(remote)

	// Every distinct uuid is visited exactly once by the pre-order traversal.
	treeSize := len(lUUID)
	for u := range rUUID {
		if _, ok := lUUID[u]; !ok {
			treeSize++
		}
	}
	if treeSize > 2*maxEntries {
		return nil, Stats{}, corerr.HazardErr(corerr.SizeExceeded, sessionID)
	}

	nodes := make(map[string]*node)
	for u, e := range lUUID {
		nodes[u] = &node{uuid: u, entry: e, parent: e.ParentUUID, inL: true}
	}
	for u, e := range rUUID {
		if n, ok := nodes[u]; ok {
			if n.parent != e.ParentUUID {
				return nil, Stats{}, corerr.HazardErr(corerr.ConflictingParent, sessionID)
			}
			n.inR = true
			n.remoteEntry = e
			continue
		}
		nodes[u] = &node{uuid: u, entry: e, parent: e.ParentUUID, inR: true}
	}

	// Resolve content for uuids present on both sides: byte-equal keeps
	// local, otherwise the newer timestamp wins with a lexicographic
	// raw-JSON tiebreak for determinism.
	for _, n := range nodes {
		if n.inL && n.inR {
			n.entry = resolveEdit(n.entry, n.remoteEntry)
		}
	}

	// Roots: parentUuid missing, or referencing a uuid present on neither
	// side. A dangling parent is tolerated without raising a hazard — the
	// entry just becomes its own tree root.
	for _, n := range nodes {
		if n.parent == "" {
			n.isRoot = true
			continue
		}
		if _, ok := nodes[n.parent]; !ok {
			n.isRoot = true
		}
	}

	if err := detectCycles(nodes, sessionID); err != nil {
		return nil, Stats{}, err
	}

	childrenOf := buildChildren(nodes, lIndex, rIndex)
	branchCount := 0
	for _, kids := range childrenOf {
		if len(kids) > 1 {
			branchCount++
		}
	}

	roots := rootOrder(nodes, lIndex, rIndex)

	var merged []session.Entry
	visited := make(map[string]bool, len(nodes))
	for _, r := range roots {
		preorder(r, nodes, childrenOf, visited, &merged)
	}

	merged = append(merged, mergeNonUUID(lNonUUID, rNonUUID)...)

	return merged, Stats{
		LocalEntries:  len(local),
		RemoteEntries: len(remote),
		TotalEntries:  len(merged),
		BranchCount:   branchCount,
	}, nil
}

type node struct {
	uuid        string
	entry       session.Entry // resolved (winning) entry
	remoteEntry session.Entry // remote's copy, only meaningful while inL&&inR
	parent      string
	inL, inR    bool
	isRoot      bool
}

// partition splits entries into the uuid-keyed map (with per-uuid original
// index, for sibling ordering) and the non-uuid slice, in input order.
func partition(entries []session.Entry) (map[string]session.Entry, map[string]int, []session.Entry) {
	uuidMap := make(map[string]session.Entry)
	index := make(map[string]int)
	var nonUUID []session.Entry
	for i, e := range entries {
		if e.HasUUID {
			uuidMap[e.UUID] = e
			if _, seen := index[e.UUID]; !seen {
				index[e.UUID] = i
			}
		} else {
			nonUUID = append(nonUUID, e)
		}
	}
	return uuidMap, index, nonUUID
}

func resolveEdit(l, r session.Entry) session.Entry {
	if bytes.Equal(l.Raw, r.Raw) {
		return l
	}
	lt, lok := parseTime(l.Timestamp)
	rt, rok := parseTime(r.Timestamp)
	switch {
	case lok && rok && !lt.Equal(rt):
		if rt.After(lt) {
			return r
		}
		return l
	default:
		if bytes.Compare(r.Raw, l.Raw) > 0 {
			return r
		}
		return l
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// detectCycles walks each node's parent chain; a walk that revisits a node
// before reaching a root indicates the entry is reachable from itself.
func detectCycles(nodes map[string]*node, sessionID string) error {
	for start := range nodes {
		seen := make(map[string]bool)
		cur := start
		for {
			n, ok := nodes[cur]
			if !ok || n.isRoot {
				break
			}
			if seen[cur] {
				return corerr.HazardErr(corerr.CircularReference, sessionID)
			}
			seen[cur] = true
			cur = n.parent
		}
	}
	return nil
}

// buildChildren returns, for each parent uuid, its children in the order:
// children present on both sides (in L order), then children unique to L
// (in L order), then children unique to R (in R order).
func buildChildren(nodes map[string]*node, lIndex, rIndex map[string]int) map[string][]string {
	type bucket struct {
		both, onlyL, onlyR []string
	}
	buckets := make(map[string]*bucket)

	for u, n := range nodes {
		if n.isRoot {
			continue
		}
		b := buckets[n.parent]
		if b == nil {
			b = &bucket{}
			buckets[n.parent] = b
		}
		switch {
		case n.inL && n.inR:
			b.both = append(b.both, u)
		case n.inL:
			b.onlyL = append(b.onlyL, u)
		default:
			b.onlyR = append(b.onlyR, u)
		}
	}

	out := make(map[string][]string, len(buckets))
	for parent, b := range buckets {
		sort.Slice(b.both, func(i, j int) bool { return lIndex[b.both[i]] < lIndex[b.both[j]] })
		sort.Slice(b.onlyL, func(i, j int) bool { return lIndex[b.onlyL[i]] < lIndex[b.onlyL[j]] })
		sort.Slice(b.onlyR, func(i, j int) bool { return rIndex[b.onlyR[i]] < rIndex[b.onlyR[j]] })
		children := make([]string, 0, len(b.both)+len(b.onlyL)+len(b.onlyR))
		children = append(children, b.both...)
		children = append(children, b.onlyL...)
		children = append(children, b.onlyR...)
		out[parent] = children
	}
	return out
}

// rootOrder returns root uuids in the order they first appear in L, then
// (for roots not in L) the order they first appear in R.
func rootOrder(nodes map[string]*node, lIndex, rIndex map[string]int) []string {
	var roots []string
	seen := make(map[string]bool)

	type idxSrc struct {
		uuid string
		idx  int
	}
	var fromL, fromR []idxSrc
	for u, n := range nodes {
		if !n.isRoot {
			continue
		}
		if i, ok := lIndex[u]; ok {
			fromL = append(fromL, idxSrc{u, i})
		} else if i, ok := rIndex[u]; ok {
			fromR = append(fromR, idxSrc{u, i})
		}
	}
	sort.Slice(fromL, func(i, j int) bool { return fromL[i].idx < fromL[j].idx })
	sort.Slice(fromR, func(i, j int) bool { return fromR[i].idx < fromR[j].idx })
	for _, s := range fromL {
		if !seen[s.uuid] {
			roots = append(roots, s.uuid)
			seen[s.uuid] = true
		}
	}
	for _, s := range fromR {
		if !seen[s.uuid] {
			roots = append(roots, s.uuid)
			seen[s.uuid] = true
		}
	}
	return roots
}

func preorder(u string, nodes map[string]*node, childrenOf map[string][]string, visited map[string]bool, out *[]session.Entry) {
	if visited[u] {
		return
	}
	visited[u] = true
	n := nodes[u]
	*out = append(*out, n.entry)
	for _, c := range childrenOf[u] {
		preorder(c, nodes, childrenOf, visited, out)
	}
}

// mergeNonUUID collects non-uuid entries from both sides, deduplicated by
// fallback key, then orders them by timestamp when present and by stable
// input order (L then R) otherwise.
func mergeNonUUID(local, remote []session.Entry) []session.Entry {
	type item struct {
		entry session.Entry
		idx   int
	}
	seen := make(map[session.FallbackKey]bool)
	var items []item
	idx := 0
	add := func(e session.Entry) {
		_, key, _ := e.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		items = append(items, item{entry: e, idx: idx})
		idx++
	}
	for _, e := range local {
		add(e)
	}
	for _, e := range remote {
		add(e)
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti, oki := parseTime(items[i].entry.Timestamp)
		tj, okj := parseTime(items[j].entry.Timestamp)
		if oki && okj && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return items[i].idx < items[j].idx
	})

	out := make([]session.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}
