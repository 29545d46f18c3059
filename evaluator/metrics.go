package evaluator

import "math"

// Ranking metrics with binary relevance. retrieved is the ranked list of ids,
// relevant the set of ground-truth ids.

// AccuracyAtK is 1 if any relevant id is in the top k, else 0.
func AccuracyAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	for _, id := range topK(retrieved, k) {
		if relevant[id] {
			return 1
		}
	}
	return 0
}

// PrecisionAtK is the number of relevant ids in the top k divided by k.
func PrecisionAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(countRelevant(topK(retrieved, k), relevant)) / float64(k)
}

// RecallAtK is the fraction of relevant ids found in the top k.
func RecallAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(countRelevant(topK(retrieved, k), relevant)) / float64(len(relevant))
}

// MRRAtK is the reciprocal rank of the first relevant id within the top k.
func MRRAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	for i, id := range topK(retrieved, k) {
		if relevant[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// NDCGAtK is DCG@k normalized by the DCG of an ideal ranking.
func NDCGAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if len(relevant) == 0 || k <= 0 {
		return 0
	}
	dcg := 0.0
	for i, id := range topK(retrieved, k) {
		if relevant[id] {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}
	idcg := 0.0
	for i := 0; i < min(k, len(relevant)); i++ {
		idcg += 1 / math.Log2(float64(i+2))
	}
	return dcg / idcg
}

// APAtK is average precision over the top k, normalized by min(k, |relevant|).
func APAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if len(relevant) == 0 || k <= 0 {
		return 0
	}
	found := 0
	sum := 0.0
	for i, id := range topK(retrieved, k) {
		if relevant[id] {
			found++
			sum += float64(found) / float64(i+1)
		}
	}
	return sum / float64(min(k, len(relevant)))
}

func topK(retrieved []string, k int) []string {
	if k <= 0 {
		return nil
	}
	if k < len(retrieved) {
		return retrieved[:k]
	}
	return retrieved
}

func countRelevant(ids []string, relevant map[string]bool) int {
	n := 0
	for _, id := range ids {
		if relevant[id] {
			n++
		}
	}
	return n
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
