package services

import (
	"sort"

	"github.com/sahilm/fuzzy"

	"showtime-api/models"
	"showtime-api/utils"
)

// Matcher ranks a snapshot's titles against a free-text query.
type Matcher struct {
	logger *utils.Logger
}

// NewMatcher creates a Matcher with the given logger.
func NewMatcher(logger *utils.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// Match returns the movies whose titles contain the query's characters in
// order (case-insensitive), best score first. Ties keep snapshot order.
// An empty query returns movies unchanged. Only the query is normalized here;
// stored titles were normalized by the Cleaner at extraction time.
func (m *Matcher) Match(movies []models.Movie, query string) []models.Movie {
	query = NormalizeTitle(query)
	if query == "" {
		return movies
	}

	titles := make([]string, len(movies))
	for i, mv := range movies {
		titles[i] = mv.Title
	}

	// fuzzy.Find's own ordering does not keep ties stable, so sort here.
	matches := fuzzy.FindNoSort(query, titles)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	result := make([]models.Movie, 0, len(matches))
	for _, match := range matches {
		result = append(result, movies[match.Index])
	}

	m.logger.Debug("[matcher] %q matched %d of %d movies", query, len(result), len(movies))
	return result
}
