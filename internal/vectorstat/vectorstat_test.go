package vectorstat_test

import (
	"math"
	"testing"

	"github.com/topictrends/cluster-core/internal/vectorstat"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	a := []float32{1, 2, 3}

	got := vectorstat.CosineSimilarity(a, a)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected similarity 1.0, got %v", got)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	got := vectorstat.CosineSimilarity(a, b)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("expected similarity 0, got %v", got)
	}
}

func TestCosineSimilarity_ZeroNorm(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}

	if got := vectorstat.CosineSimilarity(a, b); got != 0 {
		t.Fatalf("expected zero-norm similarity 0, got %v", got)
	}
}

func TestMean(t *testing.T) {
	vectors := [][]float32{{1, 1}, {3, 3}}

	mean := vectorstat.Mean(vectors)
	if mean[0] != 2 || mean[1] != 2 {
		t.Fatalf("expected mean [2 2], got %v", mean)
	}
}

func TestMean_Empty(t *testing.T) {
	if vectorstat.Mean(nil) != nil {
		t.Fatal("expected nil mean for empty input")
	}
}

func TestDBSCAN_GroupsDenseCluster(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.95, 0.05, 0},
		{0, 0, 1},
	}

	labels := vectorstat.DBSCAN(vectors, 0.25, 2)

	if labels[0] == -1 || labels[0] != labels[1] {
		t.Fatalf("expected first two points clustered together, got %v", labels)
	}

	if labels[2] != -1 {
		t.Fatalf("expected the dissimilar point to remain noise, got %v", labels[2])
	}
}

func TestAgglomerativeThreshold_SeparatesDistantGroups(t *testing.T) {
	vectors := [][]float32{
		{1, 0},
		{0.99, 0.01},
		{0, 1},
		{0.01, 0.99},
	}

	labels := vectorstat.AgglomerativeThreshold(vectors, 1-0.70)

	if labels[0] != labels[1] {
		t.Fatalf("expected first pair in the same cluster, got %v", labels)
	}

	if labels[2] != labels[3] {
		t.Fatalf("expected second pair in the same cluster, got %v", labels)
	}

	if labels[0] == labels[2] {
		t.Fatalf("expected the two pairs in different clusters, got %v", labels)
	}
}

func TestAgglomerativeFixedK_ProducesExactClusterCount(t *testing.T) {
	vectors := [][]float32{
		{1, 0}, {0.9, 0.1}, {0, 1}, {0.1, 0.9}, {0.5, 0.5},
	}

	labels := vectorstat.AgglomerativeFixedK(vectors, 2)

	seen := map[int]bool{}
	for _, l := range labels {
		seen[l] = true
	}

	if len(seen) != 2 {
		t.Fatalf("expected exactly 2 clusters, got %d: %v", len(seen), labels)
	}
}
