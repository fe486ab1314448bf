package feed

import (
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const (
	cdataStart = "<![CDATA["
	cdataEnd   = "]]>"
)

// kst は掲示板の日時表記に使われるタイムゾーン（夏時間なし）。
var kst = time.FixedZone("KST", 9*60*60)

// boardDateLayouts はgofeedが解釈できない掲示板独自の日時表記。
var boardDateLayouts = []string{
	"2006.01.02 15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02",
}

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// textPolicy は全タグを除去するbluemondayポリシーを返す。
func textPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		p := bluemonday.StrictPolicy()
		p.AddSpaceWhenStrippingTag(true)
		strictPolicy = p
	})
	return strictPolicy
}

// StripCDATA はCDATAラッパーを取り除く。
// 値全体を囲んでいる場合は外側の1組だけを外し、
// 値の一部にある場合は開始・終了マーカーを1つずつ削除して前後の文字列を残す。
func StripCDATA(value string) string {
	trimmed := strings.TrimSpace(value)
	start := strings.Index(trimmed, cdataStart)
	if start < 0 {
		return trimmed
	}

	if start == 0 && strings.HasSuffix(trimmed, cdataEnd) && len(trimmed) >= len(cdataStart)+len(cdataEnd) {
		return strings.TrimSpace(trimmed[len(cdataStart) : len(trimmed)-len(cdataEnd)])
	}

	rest := trimmed[start+len(cdataStart):]
	if end := strings.Index(rest, cdataEnd); end >= 0 {
		rest = rest[:end] + rest[end+len(cdataEnd):]
	}
	return strings.TrimSpace(trimmed[:start] + rest)
}

// NormalizeText はフィードのテキスト値をプレーンテキストに正規化する。
// CDATAラッパーの除去、タグの除去、実体参照のデコード、空白の圧縮を行う。
func NormalizeText(value string) string {
	s := StripCDATA(value)
	if s == "" {
		return ""
	}
	s = textPolicy().Sanitize(escapeBareLT(s))
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// escapeBareLT はタグの開始ではない "<" を実体参照にする。
// "A<B 모집" のような本文がタグとして解釈され、以降が消えるのを防ぐ。
func escapeBareLT(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '<' && !startsTag(s[i+1:]) {
			b.WriteString("&lt;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// startsTag は "<" に続く文字列がタグ（終了タグ・コメントを含む）として閉じているかを返す。
// 次の "<" より前に ">" がなければタグとみなさない。
func startsTag(rest string) bool {
	if rest == "" {
		return false
	}
	c := rest[0]
	if c != '/' && c != '!' && !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') {
		return false
	}
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return false
	}
	return !strings.Contains(rest[:end], "<")
}

// ParseBoardDate は掲示板独自形式の日時文字列を解析する。
// 解析できない場合はnilを返し、エラーにはしない。
func ParseBoardDate(value string) *time.Time {
	value = strings.TrimSpace(StripCDATA(value))
	if value == "" {
		return nil
	}
	for _, layout := range boardDateLayouts {
		if t, err := time.ParseInLocation(layout, value, kst); err == nil {
			return &t
		}
	}
	return nil
}
