// Package eventcluster groups a period's source items into candidate
// same-event clusters using a union-find over pairwise similarity. No
// clustering library appears anywhere in the retrieved pack, so this
// is a plain slice-backed textbook implementation rather than an
// import.
package eventcluster

import (
	"math"
	"time"

	"echoman/internal/domain/titlenorm"
	"github.com/google/uuid"
)

// Item is the minimal view eventcluster needs of a source item.
type Item struct {
	ID        uuid.UUID
	Title     string
	Embedding []float32
	FetchedAt time.Time
}

// Thresholds bounds when two items are considered an edge.
type Thresholds struct {
	CosineSimilarity float64
	TitleJaccard     float64
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Group is one connected component, representative chosen by earliest
// FetchedAt.
type Group struct {
	Representative Item
	Members        []Item
}

// Cluster partitions items into connected components where an edge
// exists between i and j iff both the cosine similarity of their
// embeddings and the title bigram Jaccard similarity clear their
// respective thresholds.
func Cluster(items []Item, t Thresholds) []Group {
	n := len(items)
	uf := newUnionFind(n)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineSimilarity(items[i].Embedding, items[j].Embedding) < t.CosineSimilarity {
				continue
			}
			if titlenorm.JaccardSimilarity(items[i].Title, items[j].Title) < t.TitleJaccard {
				continue
			}
			uf.union(i, j)
		}
	}

	componentOf := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		componentOf[root] = append(componentOf[root], i)
	}

	groups := make([]Group, 0, len(componentOf))
	for _, idxs := range componentOf {
		members := make([]Item, len(idxs))
		for k, idx := range idxs {
			members[k] = items[idx]
		}
		rep := members[0]
		for _, m := range members[1:] {
			if m.FetchedAt.Before(rep.FetchedAt) {
				rep = m
			}
		}
		groups = append(groups, Group{Representative: rep, Members: members})
	}
	return groups
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
