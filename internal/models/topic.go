package models

import "time"

// Topic is a cluster of ideas with a representative text and centroid (spec §3).
type Topic struct {
	ID                string    `json:"id"`
	DiscussionID      string    `json:"discussion_id"`
	RepresentativeText string  `json:"representative_text"`
	MemberCount       int       `json:"member_count"`
	Centroid          []float32 `json:"centroid,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasCentroid reports whether the topic has a derivable centroid.
// A topic whose every member lacks an embedding has no centroid (spec §3)
// and is ineligible for online matching until the next Full Reclustering.
func (t *Topic) HasCentroid() bool {
	return len(t.Centroid) > 0
}

// WithIncrementalUpdate returns the centroid/count that result from folding
// one additional member embedding in, per spec §4.4 step 3:
// C' = (C*n + e) / (n+1).
func (t *Topic) WithIncrementalUpdate(embedding []float32) (centroid []float32, count int) {
	n := t.MemberCount
	if !t.HasCentroid() || n == 0 {
		centroid = make([]float32, len(embedding))
		copy(centroid, embedding)
		return centroid, n + 1
	}

	centroid = make([]float32, len(t.Centroid))
	for i := range centroid {
		var e float32
		if i < len(embedding) {
			e = embedding[i]
		}
		centroid[i] = (t.Centroid[i]*float32(n) + e) / float32(n+1)
	}
	return centroid, n + 1
}
