package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
// 車名、説明文、所在地などの自由入力フィールドに適用する。
type TextSanitizer interface {
	// Sanitize はテキストからHTMLタグをすべて除去する。
	// 掲載情報はプレーンテキストとして扱うため、タグは許可しない。
	Sanitize(text string) string
}

// textSanitizer はTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicyによりすべてのHTMLタグと属性が除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからHTMLタグをすべて除去し、前後の空白をトリムする。
func (s *textSanitizer) Sanitize(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// インターフェース実装の確認
var _ TextSanitizer = (*textSanitizer)(nil)
var _ URLGuardService = (*urlGuard)(nil)
