package search

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// signature is the two word sets used for duplicate and similarity checks:
// the first 10 title words and the first 25 of the sorted first 50 content
// words. CJK runs carry no delimiters, so each Han rune counts as one word.
type signature struct {
	title   map[string]struct{}
	content map[string]struct{}
}

// tokenize lowercases s and splits it into words: letter/digit runs for
// alphabetic scripts, single runes for Han.
func tokenize(s string) []string {
	var words []string
	var run []rune
	flush := func() {
		if len(run) > 0 {
			words = append(words, strings.ToLower(string(run)))
			run = run[:0]
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// signatureOf builds the dedup signature of a record.
func signatureOf(rec *Record) signature {
	titleWords := tokenize(rec.Title)
	if len(titleWords) > 10 {
		titleWords = titleWords[:10]
	}

	contentWords := tokenize(rec.Content)
	if len(contentWords) > 50 {
		contentWords = contentWords[:50]
	}
	sorted := append([]string(nil), contentWords...)
	sort.Strings(sorted)
	if len(sorted) > 25 {
		sorted = sorted[:25]
	}

	sig := signature{
		title:   make(map[string]struct{}, len(titleWords)),
		content: make(map[string]struct{}, len(sorted)),
	}
	for _, w := range titleWords {
		sig.title[w] = struct{}{}
	}
	for _, w := range sorted {
		sig.content[w] = struct{}{}
	}
	return sig
}

// jaccard computes |a∩b| / |a∪b|; two empty sets count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// similarity is the mean Jaccard of the title and content signature parts.
func (s signature) similarity(other signature) float64 {
	return (jaccard(s.title, other.title) + jaccard(s.content, other.content)) / 2
}

// dedup removes near-duplicates: records whose signature similarity exceeds
// threshold collapse into whichever has the higher final score. The input
// must already be scored.
func dedup(records []Record, threshold float64) []Record {
	if len(records) < 2 {
		return records
	}

	// Score order first so the better duplicate is the one that survives.
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FinalScore != sorted[j].FinalScore {
			return sorted[i].FinalScore > sorted[j].FinalScore
		}
		return sorted[i].URL < sorted[j].URL
	})

	kept := make([]Record, 0, len(sorted))
	sigs := make([]signature, 0, len(sorted))
	for i := range sorted {
		sig := signatureOf(&sorted[i])
		duplicate := false
		for j := range kept {
			if sig.similarity(sigs[j]) > threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, sorted[i])
			sigs = append(sigs, sig)
		}
	}
	return kept
}

// rank orders records by final score descending; scores within 0.05 of each
// other compare on freshness instead, and residual ties fall back to URL so
// the order is total and reproducible.
func rank(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		diff := records[i].FinalScore - records[j].FinalScore
		if math.Abs(diff) >= 0.05 {
			return diff > 0
		}
		if records[i].Freshness != records[j].Freshness {
			return records[i].Freshness > records[j].Freshness
		}
		if diff != 0 {
			return diff > 0
		}
		return records[i].URL < records[j].URL
	})
}

// diversify greedily selects up to limit records, trading ranking score
// against dissimilarity to the already-selected set: each step takes the
// candidate maximizing 0.7·final + 0.3·(1 − max similarity to selected).
// The input must already be ranked; the top record always survives.
func diversify(records []Record, limit int) []Record {
	if limit <= 0 || len(records) == 0 {
		return nil
	}
	if len(records) <= 1 || limit == 1 {
		if len(records) > limit {
			return records[:limit]
		}
		return records
	}

	sigs := make([]signature, len(records))
	for i := range records {
		sigs[i] = signatureOf(&records[i])
	}

	selected := make([]Record, 0, limit)
	selectedSigs := make([]signature, 0, limit)
	used := make([]bool, len(records))

	selected = append(selected, records[0])
	selectedSigs = append(selectedSigs, sigs[0])
	used[0] = true

	for len(selected) < limit {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range records {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for j := range selectedSigs {
				if sim := sigs[i].similarity(selectedSigs[j]); sim > maxSim {
					maxSim = sim
				}
			}
			score := 0.7*records[i].FinalScore + 0.3*(1-maxSim)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, records[bestIdx])
		selectedSigs = append(selectedSigs, sigs[bestIdx])
	}
	return selected
}
