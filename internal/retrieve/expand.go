package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bull/ultirules/internal/store"
)

// Passage is one expanded retrieval result: a run of adjacent rulebook
// documents merged into a single block of text. Glossary and other
// non-rules documents pass through one-to-one.
type Passage struct {
	ID      int64 // representative document ID (median of the run)
	Content string
	Source  string
}

// Expand widens each rules-sourced result to its neighbors within radius,
// merges overlapping runs, and returns one Passage per run. Runs that
// contain no originally retrieved document are dropped. Passages are
// ordered by the earliest position of any of their members in the original
// result list; non-rules documents follow, in original order.
//
// A radius of zero returns the results unchanged.
func Expand(ctx context.Context, docs []store.Document, radius int, fetch DocumentStore) ([]Passage, error) {
	if radius <= 0 {
		passages := make([]Passage, 0, len(docs))
		for _, d := range docs {
			passages = append(passages, Passage{ID: d.ID, Content: d.Content, Source: d.Source})
		}
		return passages, nil
	}

	// original rank of each rules doc, for ordering the merged runs
	firstSeen := make(map[int64]int)
	retrieved := make(map[int64]struct{})
	var others []store.Document
	for i, d := range docs {
		if d.Source != store.SourceRules {
			others = append(others, d)
			continue
		}
		retrieved[d.ID] = struct{}{}
		if _, ok := firstSeen[d.ID]; !ok {
			firstSeen[d.ID] = i
		}
	}

	if len(retrieved) == 0 {
		passages := make([]Passage, 0, len(others))
		for _, d := range others {
			passages = append(passages, Passage{ID: d.ID, Content: d.Content, Source: d.Source})
		}
		return passages, nil
	}

	// union of the closed intervals [id-radius, id+radius]
	want := make(map[int64]struct{})
	for id := range retrieved {
		for n := id - int64(radius); n <= id+int64(radius); n++ {
			if n > 0 {
				want[n] = struct{}{}
			}
		}
	}
	ids := make([]int64, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fetched, err := fetch.DocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("expand context: %w", err)
	}

	// Group fetched docs into maximal consecutive runs. Only rules docs
	// join a run; an interleaved glossary row breaks adjacency because it
	// is not part of the rulebook's running text.
	var runs [][]store.Document
	var cur []store.Document
	for _, d := range fetched {
		if d.Source != store.SourceRules {
			if len(cur) > 0 {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}
		if len(cur) > 0 && d.ID != cur[len(cur)-1].ID+1 {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, d)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}

	type ranked struct {
		passage Passage
		rank    int
	}
	var out []ranked
	for _, run := range runs {
		rank := -1
		for _, d := range run {
			if pos, ok := firstSeen[d.ID]; ok && (rank == -1 || pos < rank) {
				rank = pos
			}
		}
		if rank == -1 {
			// run of pure neighbors with no retrieved member
			continue
		}
		parts := make([]string, len(run))
		for i, d := range run {
			parts[i] = d.Content
		}
		out = append(out, ranked{
			passage: Passage{
				ID:      run[len(run)/2].ID,
				Content: strings.Join(parts, "\n\n"),
				Source:  store.SourceRules,
			},
			rank: rank,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rank < out[j].rank })

	passages := make([]Passage, 0, len(out)+len(others))
	for _, r := range out {
		passages = append(passages, r.passage)
	}
	for _, d := range others {
		passages = append(passages, Passage{ID: d.ID, Content: d.Content, Source: d.Source})
	}
	return passages, nil
}
