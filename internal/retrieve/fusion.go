package retrieve

import "sort"

// absentRank stands in for documents missing from one result list. It is
// large enough that the absent leg contributes effectively nothing while
// keeping every candidate scoreable.
const absentRank = 1_000_000

// fuseRRF merges two ranked ID lists with reciprocal rank fusion:
//
//	score(d) = semWeight/(k + rank_sem(d)) + ftsWeight/(k + rank_fts(d))
//
// Ranks are 1-based; a document absent from a list gets absentRank there.
// The result is ordered by descending score with ties broken by ascending
// ID, truncated to limit.
func fuseRRF(semantic, fulltext []int64, k int, semWeight, ftsWeight float64, limit int) []int64 {
	semRank := make(map[int64]int, len(semantic))
	for i, id := range semantic {
		semRank[id] = i + 1
	}
	ftsRank := make(map[int64]int, len(fulltext))
	for i, id := range fulltext {
		ftsRank[id] = i + 1
	}

	seen := make(map[int64]struct{}, len(semantic)+len(fulltext))
	candidates := make([]int64, 0, len(semantic)+len(fulltext))
	for _, id := range semantic {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}
	for _, id := range fulltext {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	scores := make(map[int64]float64, len(candidates))
	for _, id := range candidates {
		rs, ok := semRank[id]
		if !ok {
			rs = absentRank
		}
		rf, ok := ftsRank[id]
		if !ok {
			rf = absentRank
		}
		scores[id] = semWeight/float64(k+rs) + ftsWeight/float64(k+rf)
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i]], scores[candidates[j]]
		if si != sj {
			return si > sj
		}
		return candidates[i] < candidates[j]
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
