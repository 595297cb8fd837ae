// Package linkheader parses RFC 8288 Link header values as paginated REST
// APIs send them.
package linkheader

import (
	"net/http"
	"strings"
)

// Link is one target of a Link header.
type Link struct {
	URL    string
	Rel    string
	Params map[string]string
}

// Parse returns every well-formed link in the given header values. Entries
// without a URL (such as "<>;") are skipped.
func Parse(values []string) []Link {
	var links []Link
	for _, value := range values {
		for _, entry := range splitEntries(value) {
			link, ok := parseEntry(entry)
			if ok {
				links = append(links, link)
			}
		}
	}
	return links
}

// Next returns the URL of the first link with rel "next", or "".
func Next(header http.Header) string {
	return Find(header, "next")
}

// Find returns the URL of the first link carrying rel, or "".
func Find(header http.Header, rel string) string {
	if header == nil {
		return ""
	}
	for _, link := range Parse(header.Values("Link")) {
		for _, r := range strings.Fields(link.Rel) {
			if strings.EqualFold(r, rel) {
				return link.URL
			}
		}
	}
	return ""
}

// splitEntries splits a header value on the commas outside <...> and quotes.
func splitEntries(value string) []string {
	var (
		entries []string
		start   int
		inURL   bool
		inQuote bool
	)
	for i, r := range value {
		switch {
		case r == '<' && !inQuote:
			inURL = true
		case r == '>' && !inQuote:
			inURL = false
		case r == '"' && !inURL:
			inQuote = !inQuote
		case r == ',' && !inURL && !inQuote:
			entries = append(entries, value[start:i])
			start = i + 1
		}
	}
	return append(entries, value[start:])
}

func parseEntry(entry string) (Link, bool) {
	entry = strings.TrimSpace(entry)
	if !strings.HasPrefix(entry, "<") {
		return Link{}, false
	}
	end := strings.Index(entry, ">")
	if end < 0 {
		return Link{}, false
	}
	link := Link{URL: strings.TrimSpace(entry[1:end]), Params: make(map[string]string)}
	if link.URL == "" {
		return Link{}, false
	}
	for _, param := range strings.Split(entry[end+1:], ";") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		key, val, _ := strings.Cut(param, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		if key == "rel" {
			link.Rel = val
			continue
		}
		link.Params[key] = val
	}
	return link, true
}
