// Package inspect serves point-in-time views of storage engine internals:
// buffer pool cache entries, individual pages and the B+tree index layout.
// Sources are independent of the observer registry and are queried per
// request.
package inspect

import (
	"context"
	"errors"
	"time"
)

var ErrPageNotFound = errors.New("page not found")

type CacheEntry struct {
	PageID     int       `json:"pageId"`
	Status     string    `json:"status"`
	LastAccess time.Time `json:"lastAccess"`
	HitCount   int       `json:"hitCount"`
	Dirty      bool      `json:"dirty"`
}

type PageMetadata struct {
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Size         int       `json:"size"`
}

type Page struct {
	ID       int          `json:"id"`
	Content  string       `json:"content"`
	Metadata PageMetadata `json:"metadata"`
}

type TreeNode struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

type TreeEdge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type Tree struct {
	Nodes []TreeNode `json:"nodes"`
	Edges []TreeEdge `json:"edges"`
}

// Source answers inspection queries.
type Source interface {
	CacheEntries(ctx context.Context) ([]CacheEntry, error)
	Page(ctx context.Context, id int) (Page, error)
	BTree(ctx context.Context) (Tree, error)
}
