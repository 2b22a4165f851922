package memory

import (
	"sort"
	"strings"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"is": true, "it": true, "and": true, "or": true, "for": true, "on": true,
	"at": true, "with": true, "this": true, "that": true, "be": true,
	"are": true, "was": true, "were": true, "i": true, "you": true,
}

// Search scores entries by word overlap against query, filtering stop
// words, and returns up to limit results ordered by score then recency
// (ties broken deterministically, not by map-iteration order). typ
// restricts to one tier ("" = all non-session tiers); tags, if given,
// requires at least one match.
func (s *Store) Search(query, typ string, tags []string, limit int) ([]Entry, error) {
	terms := queryTerms(query)

	var pool []Entry
	var err error
	switch EntryType(typ) {
	case TypeLongTerm:
		pool, err = s.GetByType(TypeLongTerm, 0, "")
	case TypeDaily:
		pool, err = s.GetByType(TypeDaily, 0, "")
	default:
		pool, err = s.walkAllMarkdown()
	}
	if err != nil {
		return nil, err
	}

	type scored struct {
		e     Entry
		score int
	}
	var results []scored
	for _, e := range pool {
		if len(tags) > 0 && !hasAnyTag(e.Tags, tags) {
			continue
		}
		sc := overlapScore(terms, e.Content, e.Metadata["header"])
		if sc > 0 || len(terms) == 0 {
			results = append(results, scored{e, sc})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].e.CreatedAt.After(results[j].e.CreatedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = r.e
	}
	return out, nil
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" || stopWords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func overlapScore(terms []string, content, header string) int {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(header + " " + content)
	score := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			score++
		}
	}
	return score
}

func hasAnyTag(entryTags, want []string) bool {
	set := make(map[string]bool, len(entryTags))
	for _, t := range entryTags {
		set[strings.ToLower(t)] = true
	}
	for _, t := range want {
		if set[strings.ToLower(t)] {
			return true
		}
	}
	return false
}
