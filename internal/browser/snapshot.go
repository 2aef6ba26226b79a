package browser

import (
	"fmt"
	"net/url"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// DefaultSnapshotLen bounds snapshot text handed to the model.
const DefaultSnapshotLen = 20000

const truncatedMarker = "\n\n[Content truncated...]"

// Snapshot converts page HTML to markdown with a title/URL header. If the
// markdown conversion fails or yields nothing, readability text is used.
func Snapshot(html, pageURL, title string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultSnapshotLen
	}

	body, err := htmltomd.ConvertString(html)
	body = strings.TrimSpace(body)
	if err != nil || body == "" {
		if err != nil {
			L_warn("browser: html-to-markdown failed, falling back to readability", "error", err)
		}
		parsed, _ := url.Parse(pageURL)
		article, rerr := readability.FromReader(strings.NewReader(html), parsed)
		if rerr != nil {
			return "", fmt.Errorf("failed to extract content: %w", rerr)
		}
		body = strings.TrimSpace(article.TextContent)
		if title == "" {
			title = article.Title
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "URL: %s\n\n---\n\n", pageURL)
	b.WriteString(body)

	content := b.String()
	if len(content) > maxLen {
		content = truncateUTF8(content, maxLen) + truncatedMarker
	}
	L_debug("browser: snapshot", "url", pageURL, "chars", len(content))
	return content, nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
