package vectorstat

// DBSCAN groups points by cosine distance (1 - cosine similarity) using the
// classic density-based algorithm. eps is the neighborhood radius and
// minSamples is the minimum neighborhood size (inclusive of the point
// itself) to seed a dense cluster. Used by the Centroid Clustering Engine
// to group outliers (spec §4.4 step 4: eps≈0.25, min_samples=2).
//
// Returns, for each input index, the zero-based cluster id it was assigned
// to, or -1 if it remained noise (an unclustered point).
func DBSCAN(vectors [][]float32, eps float64, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	visited := make([]bool, n)

	for i := range labels {
		labels[i] = -1
	}

	neighbors := func(i int) []int {
		var out []int

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}

			if 1-CosineSimilarity(vectors[i], vectors[j]) <= eps {
				out = append(out, j)
			}
		}

		return out
	}

	clusterID := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}

		visited[i] = true

		neigh := neighbors(i)
		if len(neigh)+1 < minSamples {
			continue // remains noise (-1)
		}

		labels[i] = clusterID
		seeds := append([]int{}, neigh...)

		for len(seeds) > 0 {
			j := seeds[0]
			seeds = seeds[1:]

			if !visited[j] {
				visited[j] = true

				jNeigh := neighbors(j)
				if len(jNeigh)+1 >= minSamples {
					seeds = append(seeds, jNeigh...)
				}
			}

			if labels[j] == -1 {
				labels[j] = clusterID
			}
		}

		clusterID++
	}

	return labels
}
