package serp

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func parseGoogle(doc *goquery.Document) ([]Result, error) {
	var results []Result
	doc.Find("div.g").Each(func(i int, s *goquery.Selection) {
		title := s.Find("h3").First()
		link, ok := s.Find("a").First().Attr("href")
		if title.Length() == 0 || !ok || link == "" {
			return
		}
		snippet := s.Find("div[data-sncf='1']").First()
		if snippet.Length() == 0 {
			snippet = s.Find(".VwiC3b").First()
		}
		results = append(results, Result{
			Position: i + 1,
			Title:    title.Text(),
			Link:     link,
			Snippet:  snippet.Text(),
		})
	})
	return results, nil
}

func parseBing(doc *goquery.Document) ([]Result, error) {
	var results []Result
	doc.Find("li.b_algo").Each(func(i int, s *goquery.Selection) {
		title := s.Find("h2 a").First()
		link, ok := title.Attr("href")
		if !ok || link == "" {
			return
		}
		results = append(results, Result{
			Position: i + 1,
			Title:    title.Text(),
			Link:     link,
			Snippet:  s.Find(".b_caption p").First().Text(),
		})
	})
	return results, nil
}

func parseDuckDuckGo(doc *goquery.Document) ([]Result, error) {
	var results []Result
	doc.Find(".result").Each(func(i int, s *goquery.Selection) {
		title := s.Find(".result__a").First()
		href, ok := title.Attr("href")
		if !ok || href == "" {
			return
		}
		results = append(results, Result{
			Position: i + 1,
			Title:    title.Text(),
			Link:     unwrapRedirect(href, "uddg"),
			Snippet:  strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
	})
	return results, nil
}

// unwrapRedirect recovers the destination carried in param of an outbound
// redirect link. Links without the parameter are returned unchanged; a
// present but empty parameter yields "". The value is unescaped once more
// after query decoding since some engines double-encode it.
func unwrapRedirect(href, param string) string {
	if !strings.Contains(href, param+"=") {
		return href
	}
	_, rawQuery, found := strings.Cut(href, "?")
	if !found {
		return href
	}
	// ParseQuery keeps every well-formed pair even when it reports an error.
	values, _ := url.ParseQuery(rawQuery)
	dest := values.Get(param)
	if dest == "" {
		return ""
	}
	if decoded, err := url.PathUnescape(dest); err == nil {
		return decoded
	}
	return dest
}
