// Package billing 提供 token 估算、计价和用量结算
package billing

import (
	"math"
	"strings"
	"unicode/utf8"
)

// EstimateTokens 估算文本的 token 数
//
// 经验估算：英文大约 4 个字符一个 token，或每词约 1.3 个 token，
// 取两种估法的较大值。空文本返回 0。
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	charCount := utf8.RuneCountInString(text)
	wordCount := len(strings.Fields(text))

	estFromChars := int(math.Ceil(float64(charCount) / 4))
	estFromWords := int(math.Ceil(float64(wordCount) * 1.3))

	if estFromChars > estFromWords {
		return estFromChars
	}
	return estFromWords
}
