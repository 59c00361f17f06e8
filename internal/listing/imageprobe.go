package listing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rentwheels/web/internal/model"
	"golang.org/x/net/html"
)

// SafeClientFactory はSSRF防止付きHTTPクライアントの生成インターフェース。
type SafeClientFactory interface {
	URLValidator
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// ImageProbe は画像URLの実在確認機能を提供する。
// 掲載フォームで入力されたURLが画像を指すことを確認し、
// HTMLページの場合はog:imageメタタグから画像URLを抽出する。
type ImageProbe struct {
	urlGuard SafeClientFactory
	timeout  time.Duration
	maxSize  int64
}

// NewImageProbe はImageProbeの新しいインスタンスを生成する。
func NewImageProbe(urlGuard SafeClientFactory, timeout time.Duration, maxSize int64) *ImageProbe {
	return &ImageProbe{
		urlGuard: urlGuard,
		timeout:  timeout,
		maxSize:  maxSize,
	}
}

// Resolve は画像URLを検証・解決する。
// 1. SSRF検証を実行
// 2. URLにHTTPリクエストを送信
// 3. Content-Typeが画像の場合は入力URLをそのまま返す
// 4. HTMLの場合はog:imageメタタグを検出し、その画像URLを返す
// 5. どちらでもない場合はValidationErrorを返す
func (p *ImageProbe) Resolve(ctx context.Context, inputURL string) (string, error) {
	if inputURL == "" {
		return "", model.NewValidationError("image", "画像URLが入力されていません")
	}

	if err := p.urlGuard.ValidateURL(inputURL); err != nil {
		return "", model.NewValidationError("image", "画像URLが不正です: "+err.Error())
	}

	client := p.urlGuard.NewSafeClient(p.timeout, p.maxSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewValidationError("image", "画像URLが不正です: "+err.Error())
	}
	req.Header.Set("User-Agent", "RentWheels/1.0 Image Probe")
	req.Header.Set("Accept", "image/*, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", model.NewValidationError("image", "画像URLにアクセスできません: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewValidationError("image",
			fmt.Sprintf("画像URLがステータス%dを返しました", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	// 画像の場合は入力URLをそのまま使用
	if strings.HasPrefix(mediaType, "image/") {
		return inputURL, nil
	}

	// HTMLでも画像でもない場合
	if !strings.Contains(mediaType, "html") {
		return "", model.NewValidationError("image", "画像URLが画像を指していません: "+mediaType)
	}

	// HTMLの場合: og:imageメタタグから画像URLを抽出
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize))
	if err != nil {
		return "", model.NewValidationError("image", "ページの読み取りに失敗しました: "+err.Error())
	}

	imageURL := extractOGImage(body, inputURL)
	if imageURL == "" {
		return "", model.NewValidationError("image", "ページからog:imageを検出できませんでした")
	}

	// 抽出した画像URLにも同じ検証を適用
	if err := p.urlGuard.ValidateURL(imageURL); err != nil {
		return "", model.NewValidationError("image", "検出された画像URLが不正です: "+err.Error())
	}
	return imageURL, nil
}

// extractOGImage はHTMLのheadタグからog:imageメタタグの画像URLを抽出する。
// 相対URLはbaseURLを基準に絶対URLに解決される。
func extractOGImage(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				return ""
			}
			if tagName != "meta" || !hasAttr {
				continue
			}

			// meta要素の属性を解析
			var property, content string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property", "name":
					property = strings.ToLower(string(val))
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}

			if property != "og:image" || content == "" {
				continue
			}

			// 相対URLを絶対URLに解決
			ref, err := url.Parse(content)
			if err != nil {
				continue
			}
			return baseU.ResolveReference(ref).String()
		}
	}
}
