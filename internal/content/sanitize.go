package content

import "github.com/microcosm-cc/bluemonday"

// newPolicy は本文に許可するHTMLの許可リストを返す。
// 見出し、強調、リスト、リンク、画像だけを残し、スクリプトや属性の大半は落とす。
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"b", "i", "em", "strong", "p", "br", "ul", "ol", "li", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6", "code", "pre",
	)
	p.AllowAttrs("href", "target").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}
