package inspect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestMockSource_CacheEntries(t *testing.T) {
	src := NewMockSource(10, 4, 4, testNow)

	entries, err := src.CacheEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, 1, entries[0].PageID)
	assert.Equal(t, "Active", entries[0].Status)
	assert.True(t, entries[0].Dirty)
	assert.Equal(t, testNow, entries[0].LastAccess)
	assert.Equal(t, "Evictable", entries[3].Status)

	// Callers get a copy.
	entries[0].HitCount = -1
	again, err := src.CacheEntries(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, -1, again[0].HitCount)
}

func TestMockSource_CacheSlotsClampedToPages(t *testing.T) {
	src := NewMockSource(2, 8, 4, testNow)

	entries, err := src.CacheEntries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMockSource_Page(t *testing.T) {
	src := NewMockSource(5, 2, 4, testNow)

	page, err := src.Page(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, page.ID)
	assert.Equal(t, pageSize, page.Metadata.Size)
	assert.False(t, page.Metadata.LastModified.Before(page.Metadata.Created))

	for _, id := range []int{0, -1, 6} {
		_, err := src.Page(context.Background(), id)
		assert.True(t, errors.Is(err, ErrPageNotFound), "page %d: got %v", id, err)
	}
}

func TestMockSource_CancelledContext(t *testing.T) {
	src := NewMockSource(5, 2, 4, testNow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.CacheEntries(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = src.Page(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = src.BTree(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildTree(t *testing.T) {
	tests := []struct {
		name      string
		maxKey    int
		fanout    int
		wantNodes []TreeNode
		wantEdges []TreeEdge
	}{
		{
			name:   "single leaf is root",
			maxKey: 20,
			fanout: 4,
			wantNodes: []TreeNode{
				{ID: 1, Label: "Root [10, 20]"},
			},
		},
		{
			name:   "two levels",
			maxKey: 30,
			fanout: 3,
			wantNodes: []TreeNode{
				{ID: 3, Label: "Root [30]"},
				{ID: 1, Label: "Leaf [10, 20]"},
				{ID: 2, Label: "Leaf [30]"},
			},
			wantEdges: []TreeEdge{{From: 3, To: 1}, {From: 3, To: 2}},
		},
		{
			name:   "three levels",
			maxKey: 50,
			fanout: 2,
			wantNodes: []TreeNode{
				{ID: 11, Label: "Root [50]"},
				{ID: 9, Label: "Internal [30]"},
				{ID: 10, Label: "Internal []"},
				{ID: 6, Label: "Internal [20]"},
				{ID: 7, Label: "Internal [40]"},
				{ID: 8, Label: "Internal []"},
				{ID: 1, Label: "Leaf [10]"},
				{ID: 2, Label: "Leaf [20]"},
				{ID: 3, Label: "Leaf [30]"},
				{ID: 4, Label: "Leaf [40]"},
				{ID: 5, Label: "Leaf [50]"},
			},
		},
		{
			name:   "empty",
			maxKey: 0,
			fanout: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := buildTree(tt.maxKey, tt.fanout)
			assert.Equal(t, tt.wantNodes, tree.Nodes)
			if tt.wantEdges != nil {
				assert.Equal(t, tt.wantEdges, tree.Edges)
			}
			// Every non-root node has exactly one parent.
			if len(tree.Nodes) > 0 {
				assert.Len(t, tree.Edges, len(tree.Nodes)-1)
			}
		})
	}
}
