// Package taxonomy loads an NCBI-style taxonomy dump into an immutable,
// queryable in-memory tree.
package taxonomy

import (
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// TaxID identifies a taxonomy node. 0 means unassigned.
type TaxID int64

// Rank is one of the fixed taxonomic ranks, ordered root to leaf.
type Rank int

const (
	NoRank Rank = iota
	Superkingdom
	Phylum
	Class
	Order
	Family
	Genus
	Species
)

var rankNames = [...]string{
	NoRank:       "no_rank",
	Superkingdom: "superkingdom",
	Phylum:       "phylum",
	Class:        "class",
	Order:        "order",
	Family:       "family",
	Genus:        "genus",
	Species:      "species",
}

func (r Rank) String() string {
	if int(r) < 0 || int(r) >= len(rankNames) {
		return "no_rank"
	}
	return rankNames[r]
}

// Ranks lists every rank root to leaf, excluding NoRank.
var Ranks = []Rank{Superkingdom, Phylum, Class, Order, Family, Genus, Species}

func ParseRank(s string) Rank {
	for r, name := range rankNames {
		if name == s {
			return Rank(r)
		}
	}
	return NoRank
}

// LoadError reports a fatal failure while loading a taxonomy dump.
type LoadError struct {
	Source string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("taxonomy: load %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("taxonomy: load %s: %s", e.Source, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// node is one arena entry.
type node struct {
	parent TaxID
	rank   Rank
	name   string
}

// Store is an immutable, queryable taxonomy tree. The zero value is not
// usable; construct with Load.
type Store struct {
	root  TaxID
	nodes map[TaxID]node

	merged  map[TaxID]TaxID // old -> new
	deleted map[TaxID]bool

	canonCache *lru.Cache[TaxID, TaxID]
	ancCache   *lru.Cache[ancKey, TaxID]

	unknownLookups *atomic.Int64 // counter, owned by caller; may be nil
}

type ancKey struct {
	t TaxID
	r Rank
}

// NodeRecord is one row of the nodes relation: (taxid, parent, rank).
type NodeRecord struct {
	TaxID  TaxID
	Parent TaxID
	Rank   string
}

// NameRecord is one row of the names relation filtered to scientific names.
type NameRecord struct {
	TaxID TaxID
	Name  string
}

// MergeRecord is one row of the merged relation: old_taxid -> new_taxid.
type MergeRecord struct {
	Old TaxID
	New TaxID
}

// Dump bundles the four relations that make up an NCBI-style taxonomy dump.
type Dump struct {
	Nodes   []NodeRecord
	Names   []NameRecord
	Merged  []MergeRecord
	Deleted []TaxID
}

const maxMergeHops = 64

// Load builds a Store from a Dump. It fails with *LoadError on malformed
// rows or a detected cycle.
func Load(d Dump) (*Store, error) {
	nodes := make(map[TaxID]node, len(d.Nodes))
	var root TaxID = -1
	for _, n := range d.Nodes {
		if n.TaxID == 0 {
			return nil, &LoadError{Reason: "taxid 0 is reserved for unassigned and cannot appear in a nodes row"}
		}
		nodes[n.TaxID] = node{parent: n.Parent, rank: ParseRank(n.Rank)}
		if n.TaxID == n.Parent {
			root = n.TaxID
		}
	}
	if root == -1 {
		return nil, &LoadError{Reason: "no self-parented root node found"}
	}
	for _, nm := range d.Names {
		e, ok := nodes[nm.TaxID]
		if !ok {
			continue
		}
		e.name = nm.Name
		nodes[nm.TaxID] = e
	}

	merged := make(map[TaxID]TaxID, len(d.Merged))
	for _, m := range d.Merged {
		merged[m.Old] = m.New
	}
	deleted := make(map[TaxID]bool, len(d.Deleted))
	for _, t := range d.Deleted {
		deleted[t] = true
	}

	if err := detectCycles(nodes, root); err != nil {
		return nil, err
	}

	canonCache, _ := lru.New[TaxID, TaxID](4096)
	ancCache, _ := lru.New[ancKey, TaxID](4096)

	return &Store{
		root:       root,
		nodes:      nodes,
		merged:     merged,
		deleted:    deleted,
		canonCache: canonCache,
		ancCache:   ancCache,
	}, nil
}

// detectCycles builds a directed graph of parent edges and looks for a
// nontrivial strongly connected component, which would indicate a cycle in
// the taxonomy (the self-loop at root is expected and excluded).
func detectCycles(nodes map[TaxID]node, root TaxID) error {
	g := simple.NewDirectedGraph()
	ids := make(map[TaxID]int64, len(nodes))
	var next int64
	idOf := func(t TaxID) int64 {
		if id, ok := ids[t]; ok {
			return id
		}
		id := next
		next++
		ids[t] = id
		g.AddNode(simple.Node(id))
		return id
	}
	for t, n := range nodes {
		if t == root {
			continue
		}
		from := idOf(t)
		to := idOf(n.parent)
		if from == to {
			continue
		}
		g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) > 1 {
			return &LoadError{Reason: "cycle detected in taxonomy parent relation"}
		}
	}
	return nil
}

// SetCounter attaches a counter incremented on every unknown-TaxID query.
// Query-time errors never throw; they bump this counter instead.
func (s *Store) SetCounter(counter *atomic.Int64) { s.unknownLookups = counter }

func (s *Store) bumpUnknown() {
	if s.unknownLookups != nil {
		s.unknownLookups.Add(1)
	}
}

// Canonical walks the merged chain to its target, capping at maxMergeHops.
// Deleted IDs resolve to 0.
func (s *Store) Canonical(t TaxID) TaxID {
	if t == 0 {
		return 0
	}
	if v, ok := s.canonCache.Get(t); ok {
		return v
	}
	cur := t
	for i := 0; i < maxMergeHops; i++ {
		if s.deleted[cur] {
			s.canonCache.Add(t, 0)
			return 0
		}
		next, ok := s.merged[cur]
		if !ok {
			s.canonCache.Add(t, cur)
			return cur
		}
		cur = next
	}
	panic(fmt.Sprintf("taxonomy: merge chain from %d did not terminate within %d hops", t, maxMergeHops))
}

// Parent returns the parent of t after canonicalisation, or 0 if t is
// unknown.
func (s *Store) Parent(t TaxID) TaxID {
	c := s.Canonical(t)
	n, ok := s.nodes[c]
	if !ok {
		s.bumpUnknown()
		return 0
	}
	return n.parent
}

// Rank returns the rank of t after canonicalisation.
func (s *Store) Rank(t TaxID) Rank {
	c := s.Canonical(t)
	n, ok := s.nodes[c]
	if !ok {
		s.bumpUnknown()
		return NoRank
	}
	return n.rank
}

// Name returns the scientific name of t after canonicalisation.
func (s *Store) Name(t TaxID) string {
	c := s.Canonical(t)
	n, ok := s.nodes[c]
	if !ok {
		s.bumpUnknown()
		return ""
	}
	return n.name
}

// Root returns the root sentinel taxid.
func (s *Store) Root() TaxID { return s.root }

// Lineage returns the root-ward chain including t (after canonicalisation),
// terminating at the root.
func (s *Store) Lineage(t TaxID) []TaxID {
	c := s.Canonical(t)
	if c == 0 {
		return nil
	}
	var lin []TaxID
	cur := c
	for {
		lin = append(lin, cur)
		if cur == s.root {
			break
		}
		n, ok := s.nodes[cur]
		if !ok {
			s.bumpUnknown()
			break
		}
		cur = n.parent
	}
	return lin
}

// LCA returns the lowest common ancestor of t1 and t2. Returns the root if
// either input is 0.
func (s *Store) LCA(t1, t2 TaxID) TaxID {
	c1, c2 := s.Canonical(t1), s.Canonical(t2)
	if c1 == 0 || c2 == 0 {
		return s.root
	}
	if c1 == c2 {
		return c1
	}
	set := make(map[TaxID]bool, 32)
	for _, a := range s.Lineage(c1) {
		set[a] = true
	}
	for _, b := range s.Lineage(c2) {
		if set[b] {
			return b
		}
	}
	return s.root
}

// AncestorAtRank returns the first ancestor of t (inclusive) whose rank
// equals r, or 0 if none exists.
func (s *Store) AncestorAtRank(t TaxID, r Rank) TaxID {
	c := s.Canonical(t)
	if c == 0 {
		return 0
	}
	key := ancKey{c, r}
	if v, ok := s.ancCache.Get(key); ok {
		return v
	}
	for _, a := range s.Lineage(c) {
		if s.Rank(a) == r {
			s.ancCache.Add(key, a)
			return a
		}
	}
	s.ancCache.Add(key, 0)
	return 0
}

// LineageString joins the names from root to t with sep.
func (s *Store) LineageString(t TaxID, sep string) string {
	lin := s.Lineage(t)
	names := make([]string, len(lin))
	for i := len(lin) - 1; i >= 0; i-- {
		names[len(lin)-1-i] = s.Name(lin[i])
	}
	return strings.Join(names, sep)
}
