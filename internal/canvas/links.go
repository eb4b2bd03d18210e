package canvas

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var fileLinkRe = regexp.MustCompile(`/files/(\d+)`)

// EmbeddedFileIDs scans a page body for links to Canvas files and
// returns the distinct file IDs in document order. Canvas embeds these
// as /courses/{c}/files/{id} anchors and data-api-endpoint attributes.
func EmbeddedFileIDs(body string) []int64 {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[int64]bool)
	var ids []int64
	add := func(raw string) {
		m := fileLinkRe.FindStringSubmatch(raw)
		if m == nil {
			return
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	doc.Find("a[href], img[src]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
		if ep, ok := sel.Attr("data-api-endpoint"); ok {
			add(ep)
		}
	})
	return ids
}
