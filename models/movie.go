package models

import "time"

// Movie is one bookable listing scraped from a city's listings page.
// Title is already normalized when a Movie leaves the scraper.
type Movie struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

// Snapshot is the complete set of movies for one city as of one capture time.
type Snapshot struct {
	City       string
	Movies     []Movie
	CapturedAt time.Time
}

// FreshAt reports whether the snapshot is younger than window at now.
func (s *Snapshot) FreshAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.CapturedAt) < window
}

// MoviesResponse is the JSON body returned by GET /movies.
type MoviesResponse struct {
	City   string  `json:"city"`
	Movies []Movie `json:"movies"`
	Count  int     `json:"count"`
}
