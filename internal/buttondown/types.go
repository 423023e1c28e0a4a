package buttondown

import (
	"github.com/goccy/go-json"
)

// Page is one page of the events listing. Results stay raw so the
// normalizer sees exactly what the provider sent.
type Page struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
	Count   int               `json:"count"`
}

// NextCursor returns the follow-up page URL, or "" on the last page.
func (p *Page) NextCursor() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return *p.Next
}
