package bookmyshow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"showtime-api/models"
)

// cityPattern guards the city before it is spliced into a URL and a CSS selector.
var cityPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Rule maps a rendered listings page to movies. It is the only code that
// knows the site's URL layout and markup.
type Rule struct {
	BaseURL string
}

// ValidCity reports whether city is safe to use as a path segment and in a selector.
func ValidCity(city string) bool {
	return cityPattern.MatchString(city)
}

// ListingsURL returns the page that lists the city's bookable movies.
func (r Rule) ListingsURL(city string) string {
	return fmt.Sprintf("%s/explore/home/%s", strings.TrimRight(r.BaseURL, "/"), city)
}

// Selector matches the anchors that link to a movie in the city.
func (r Rule) Selector(city string) string {
	return fmt.Sprintf(`a[href*="/movies/%s/"]`, city)
}

// Parse extracts (title, href) pairs in document order. The title prefers the
// anchor's heading and falls back to the anchor text; relative hrefs are
// resolved against pageURL. Titles are returned raw.
func (r Rule) Parse(html, pageURL, city string) ([]models.Movie, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listings html: %w", err)
	}

	var movies []models.Movie
	doc.Find(r.Selector(city)).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}

		title := a.Find("h3").First().Text()
		if strings.TrimSpace(title) == "" {
			title = a.Text()
		}

		movies = append(movies, models.Movie{
			Title: title,
			Href:  base.ResolveReference(ref).String(),
		})
	})

	return movies, nil
}
