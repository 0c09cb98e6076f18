package harvest

import (
	"strings"

	"github.com/go-rod/rod"
)

// triggerSelector covers the element kinds portals render export controls as.
// The exact markup is not guaranteed, so discovery is heuristic.
const triggerSelector = `a, button, input[type="button"], input[type="submit"]`

// Locator finds candidate export-trigger elements on a page. Matching policy
// is pluggable: the harvester walks an ordered list of locators and takes the
// first one that yields candidates.
type Locator interface {
	Name() string
	Candidates(page *rod.Page) ([]*rod.Element, error)
}

// DefaultLocators returns the standard matcher order: visible text first,
// then the value attribute (covers input-style buttons).
func DefaultLocators(marker string) []Locator {
	return []Locator{
		textLocator{marker: marker},
		valueLocator{marker: marker},
	}
}

// MatchesMarker reports whether s contains the marker token. Matching is
// case-sensitive: portals distinguish "Export" controls from body text
// mentioning "export".
func MatchesMarker(s, marker string) bool {
	return marker != "" && strings.Contains(s, marker)
}

type textLocator struct{ marker string }

func (l textLocator) Name() string { return "text" }

func (l textLocator) Candidates(page *rod.Page) ([]*rod.Element, error) {
	els, err := page.Elements(triggerSelector)
	if err != nil {
		return nil, err
	}
	var out []*rod.Element
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if MatchesMarker(text, l.marker) {
			out = append(out, el)
		}
	}
	return out, nil
}

type valueLocator struct{ marker string }

func (l valueLocator) Name() string { return "value" }

func (l valueLocator) Candidates(page *rod.Page) ([]*rod.Element, error) {
	els, err := page.Elements(triggerSelector)
	if err != nil {
		return nil, err
	}
	var out []*rod.Element
	for _, el := range els {
		val, err := el.Attribute("value")
		if err != nil || val == nil {
			continue
		}
		if MatchesMarker(*val, l.marker) {
			out = append(out, el)
		}
	}
	return out, nil
}
