// Package serp turns search engine result pages fetched through the proxy
// router into ordered organic results.
package serp

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrUnsupportedEngine is returned for engine names missing from Engines.
	ErrUnsupportedEngine = errors.New("unsupported search engine")
	// ErrParse marks a page that was fetched but could not be parsed.
	ErrParse = errors.New("failed to parse search engine response")
)

// Result is one organic listing. Position is 1-based and counts every
// result container on the page, including ones that were skipped.
type Result struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// Parser extracts organic results from a parsed page.
type Parser func(doc *goquery.Document) ([]Result, error)

// Engine describes how to query and parse one search engine.
type Engine struct {
	Name string
	// URLTemplate contains a single %s that receives the escaped query.
	URLTemplate string
	Parse       Parser
}

// Engines is the lookup table of supported search engines. Adding an engine
// means adding an entry here.
var Engines = map[string]Engine{
	"google": {
		Name:        "google",
		URLTemplate: "https://www.google.com/search?q=%s&hl=en&gl=us",
		Parse:       parseGoogle,
	},
	"bing": {
		Name:        "bing",
		URLTemplate: "https://www.bing.com/search?q=%s&cc=US",
		Parse:       parseBing,
	},
	"duckduckgo": {
		Name:        "duckduckgo",
		URLTemplate: "https://html.duckduckgo.com/html/?q=%s",
		Parse:       parseDuckDuckGo,
	},
}

// DefaultEngine is used when a request names none.
const DefaultEngine = "google"

// Lookup resolves an engine by name.
func Lookup(name string) (Engine, error) {
	engine, ok := Engines[name]
	if !ok {
		return Engine{}, fmt.Errorf("%w %q, supported engines are: %s",
			ErrUnsupportedEngine, name, strings.Join(SupportedEngines(), ", "))
	}
	return engine, nil
}

// SupportedEngines lists engine names in sorted order.
func SupportedEngines() []string {
	names := make([]string, 0, len(Engines))
	for name := range Engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildURL renders the search URL for query.
func (e Engine) BuildURL(query string) string {
	return fmt.Sprintf(e.URLTemplate, url.QueryEscape(query))
}

// Extract parses html with the engine's parser. Markup that no longer
// matches yields an empty slice; a failing or panicking parser yields ErrParse.
func (e Engine) Extract(html string) (results []Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("%w: %s parser panicked: %v", ErrParse, e.Name, r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	results, err = e.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
