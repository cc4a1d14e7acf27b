package analysis

import (
	"sort"
	"strings"

	"patlas/internal/types"
)

// AnalyzeGeographic tallies filings by country code. Records without a
// country are ignored; if none carries one the result kind is
// ErrInsufficientData.
func AnalyzeGeographic(records []types.PatentRecord) (*types.GeographicResult, error) {
	counts := make(map[string]int)
	total := 0
	for i := range records {
		country := strings.ToUpper(strings.TrimSpace(records[i].Country))
		if country == "" {
			continue
		}
		counts[country]++
		total++
	}
	if total == 0 {
		return nil, types.NewError(types.ErrInsufficientData,
			"geographic: no country data in the record set")
	}

	out := make([]types.CountryEntry, 0, len(counts))
	for country, count := range counts {
		out = append(out, types.CountryEntry{
			Country: country,
			Count:   count,
			Share:   float64(count) / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})

	return &types.GeographicResult{
		Distribution: out,
		TopCountry:   out[0].Country,
		TotalPatents: total,
	}, nil
}
