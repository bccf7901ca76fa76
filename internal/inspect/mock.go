package inspect

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const pageSize = 4096

// MockSource is a deterministic in-memory Source describing a small
// database: numPages pages, the first cacheSlots of which are resident in
// the buffer pool, indexed by a B+tree with the given fanout.
type MockSource struct {
	pages []Page
	cache []CacheEntry
	tree  Tree
}

func NewMockSource(numPages, cacheSlots, fanout int, now time.Time) *MockSource {
	if fanout < 2 {
		fanout = 2
	}
	if cacheSlots > numPages {
		cacheSlots = numPages
	}

	s := &MockSource{}
	for i := 1; i <= numPages; i++ {
		created := now.Add(-time.Duration(numPages-i+2) * time.Hour)
		s.pages = append(s.pages, Page{
			ID:      i,
			Content: fmt.Sprintf("heap page %d: %d tuples", i, 16+i%48),
			Metadata: PageMetadata{
				Created:      created,
				LastModified: created.Add(time.Duration(i%60) * time.Minute),
				Size:         pageSize,
			},
		})
	}

	for i := 0; i < cacheSlots; i++ {
		status := "Active"
		if i%4 == 3 {
			status = "Evictable"
		}
		s.cache = append(s.cache, CacheEntry{
			PageID:     i + 1,
			Status:     status,
			LastAccess: now.Add(-time.Duration(i) * time.Second),
			HitCount:   150 - i*7%150,
			Dirty:      i%3 == 0,
		})
	}

	s.tree = buildTree(numPages*10, fanout)
	return s
}

func (s *MockSource) CacheEntries(ctx context.Context) ([]CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]CacheEntry, len(s.cache))
	copy(out, s.cache)
	return out, nil
}

func (s *MockSource) Page(ctx context.Context, id int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if id < 1 || id > len(s.pages) {
		return Page{}, fmt.Errorf("page %d: %w", id, ErrPageNotFound)
	}
	return s.pages[id-1], nil
}

func (s *MockSource) BTree(ctx context.Context) (Tree, error) {
	if err := ctx.Err(); err != nil {
		return Tree{}, err
	}
	return Tree{
		Nodes: append([]TreeNode(nil), s.tree.Nodes...),
		Edges: append([]TreeEdge(nil), s.tree.Edges...),
	}, nil
}

type treeLevelNode struct {
	id   int
	low  int
	keys []int
}

// buildTree lays out a B+tree over the keys 10, 20, ... maxKey bottom-up.
// Leaves hold up to fanout-1 keys; internal nodes hold up to fanout children
// and one separator key per child after the first.
func buildTree(maxKey, fanout int) Tree {
	var tree Tree
	if maxKey < 10 {
		return tree
	}

	nextID := 1
	var level []treeLevelNode
	perLeaf := fanout - 1
	for start := 10; start <= maxKey; start += perLeaf * 10 {
		n := treeLevelNode{id: nextID, low: start}
		for k := start; k < start+perLeaf*10 && k <= maxKey; k += 10 {
			n.keys = append(n.keys, k)
		}
		nextID++
		level = append(level, n)
	}

	levels := [][]treeLevelNode{level}
	for len(level) > 1 {
		var parents []treeLevelNode
		for i := 0; i < len(level); i += fanout {
			end := min(i+fanout, len(level))
			p := treeLevelNode{id: nextID, low: level[i].low}
			for _, child := range level[i+1 : end] {
				p.keys = append(p.keys, child.low)
			}
			for _, child := range level[i:end] {
				tree.Edges = append(tree.Edges, TreeEdge{From: p.id, To: child.id})
			}
			nextID++
			parents = append(parents, p)
		}
		levels = append(levels, parents)
		level = parents
	}

	// Emit nodes root first.
	for i := len(levels) - 1; i >= 0; i-- {
		for _, n := range levels[i] {
			prefix := "Internal"
			switch {
			case i == len(levels)-1:
				prefix = "Root"
			case i == 0:
				prefix = "Leaf"
			}
			tree.Nodes = append(tree.Nodes, TreeNode{ID: n.id, Label: fmt.Sprintf("%s [%s]", prefix, joinInts(n.keys))})
		}
	}
	return tree
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
