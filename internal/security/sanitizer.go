package security

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/rangetable"
)

// invisibleTable は制御文字(Cc)と書式文字(Cf)の和集合。
// ゼロ幅文字、双方向制御、ソフトハイフン、タグ文字などの不可視文字はすべてCfに含まれる。
var invisibleTable = rangetable.Merge(unicode.Cc, unicode.Cf)

// isInvisible は上流データから取り除く文字を判定する。
// U+FFFDは不正なUTF-8や対になっていないサロゲートのデコード結果として現れる。
func isInvisible(r rune) bool {
	return r == utf8.RuneError || unicode.Is(invisibleTable, r)
}

// SanitizeText は上流から受け取った名前・開発元・ジャンル等の文字列を正規化する。
// 不可視文字を除去し、前後の空白を取り除く。冪等である。
// HTMLエスケープは行わない（表示側の責務）。
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	// Transformerは状態を持つため呼び出しごとに生成する。
	t := runes.Remove(runes.Predicate(isInvisible))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.Map(func(r rune) rune {
			if isInvisible(r) {
				return -1
			}
			return r
		}, strings.ToValidUTF8(s, ""))
	}
	return strings.TrimSpace(out)
}

// SanitizeOptional はnilを保ったままSanitizeTextを適用する。
// 結果が空文字列になった場合はnilを返す。
func SanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := SanitizeText(*s)
	if v == "" {
		return nil
	}
	return &v
}
