package dedup

import (
	"github.com/quizforge/question-harvester/internal/harvest"
)

// BatchCluster groups a batch of processed items into duplicate clusters.
// Items whose pairwise similarity meets the threshold are unioned; each
// connected component becomes one cluster whose representative is the
// highest-quality member. Single-item components are omitted.
func BatchCluster(items []harvest.ProcessedItem, sim Similarity, threshold float64) []harvest.DuplicateCluster {
	if sim == nil {
		sim = TokenOverlap{}
	}
	n := len(items)
	if n < 2 {
		return nil
	}

	uf := newUnionFind(n)
	sims := make(map[[2]int]float64)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			score := sim.Compare(items[i].Raw.Question, items[j].Raw.Question)
			if score >= threshold {
				uf.union(i, j)
				sims[[2]int{i, j}] = score
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters []harvest.DuplicateCluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, buildCluster(items, members, sims, sim))
	}
	return clusters
}

func buildCluster(
	items []harvest.ProcessedItem,
	members []int,
	sims map[[2]int]float64,
	sim Similarity,
) harvest.DuplicateCluster {
	rep := members[0]
	for _, idx := range members[1:] {
		if items[idx].Score > items[rep].Score {
			rep = idx
		}
	}

	cluster := harvest.DuplicateCluster{
		ID:             "cluster-" + items[rep].ID,
		Representative: items[rep].ID,
		Similarities:   make(map[string]float64, len(members)),
	}
	sources := make(map[string]struct{})
	for _, idx := range members {
		cluster.Members = append(cluster.Members, items[idx].ID)
		sources[items[idx].Raw.SourceID] = struct{}{}
		if idx == rep {
			cluster.Similarities[items[idx].ID] = 1
			continue
		}
		lo, hi := idx, rep
		if lo > hi {
			lo, hi = hi, lo
		}
		score, ok := sims[[2]int{lo, hi}]
		if !ok {
			score = sim.Compare(items[idx].Raw.Question, items[rep].Raw.Question)
		}
		cluster.Similarities[items[idx].ID] = score
	}
	cluster.CrossSource = len(sources) > 1
	return cluster
}

// unionFind is a slice-backed disjoint set with path compression.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
