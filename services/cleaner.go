package services

import (
	"html"
	"strings"

	"showtime-api/models"
	"showtime-api/utils"
)

// NormalizeTitle decodes HTML entities, folds non-breaking spaces into plain
// spaces and trims. Stored titles and incoming queries both go through it.
func NormalizeTitle(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// NormalizeCity turns a city parameter into a cache key.
func NormalizeCity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Cleaner turns raw scraped pairs into storable movies.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean normalizes titles, drops entries without an href and keeps one entry
// per href at the position of its first occurrence. A kept entry without a
// title takes the first non-empty title seen for the same href, so an
// image-only poster link does not hide the titled link after it.
func (c *Cleaner) Clean(raw []models.Movie) []models.Movie {
	seen := utils.NewURLSet()
	index := make(map[string]int, len(raw))
	result := make([]models.Movie, 0, len(raw))

	for _, r := range raw {
		href := strings.TrimSpace(r.Href)
		if href == "" {
			c.logger.Debug("[cleaner] Dropping entry with empty href: %q", r.Title)
			continue
		}

		title := NormalizeTitle(r.Title)
		if !seen.Add(href) {
			if kept := &result[index[href]]; kept.Title == "" && title != "" {
				kept.Title = title
			}
			c.logger.Debug("[cleaner] Duplicate href skipped: %s", href)
			continue
		}

		index[href] = len(result)
		result = append(result, models.Movie{Title: title, Href: href})
	}

	if dropped := len(raw) - len(result); dropped > 0 {
		c.logger.Debug("[cleaner] Cleaned %d -> %d movies (dropped %d)", len(raw), len(result), dropped)
	}
	return result
}
