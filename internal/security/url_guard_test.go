package security

import (
	"testing"
	"time"
)

func TestURLGuard_ValidateURL(t *testing.T) {
	guard := NewURLGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"正常なHTTPS URL", "https://images.example.com/car.jpg", false},
		{"正常なHTTP URL", "http://images.example.com/car.jpg", false},
		{"空URL", "", true},
		{"ftpスキーム", "ftp://example.com/car.jpg", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"javascriptスキーム", "javascript:alert(1)", true},
		{"ホストなし", "https:///path", true},
		{"localhost", "http://localhost/img.png", true},
		{"localhost大文字", "http://LOCALHOST/img.png", true},
		{"ループバックIP", "http://127.0.0.1/img.png", true},
		{"プライベートIP 10系", "http://10.0.0.5/img.png", true},
		{"プライベートIP 172系", "http://172.16.0.1/img.png", true},
		{"プライベートIP 192系", "http://192.168.1.1/img.png", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"カレントネットワーク", "http://0.0.0.0/img.png", true},
		{"IPv6ループバック", "http://[::1]/img.png", true},
		{"パブリックIP", "http://93.184.216.34/img.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestURLGuard_NewSafeClient(t *testing.T) {
	guard := NewURLGuard()

	client := guard.NewSafeClient(5*time.Second, 1024*1024)
	if client == nil {
		t.Fatal("expected non-nil HTTP client")
	}
}

func TestIsAllowedScheme(t *testing.T) {
	if !isAllowedScheme("http") || !isAllowedScheme("https") {
		t.Error("http and https must be allowed")
	}
	if isAllowedScheme("gopher") {
		t.Error("gopher must not be allowed")
	}
	// 大文字小文字を区別しない
	if !isAllowedScheme("HTTPS") {
		t.Error("scheme check must be case-insensitive")
	}
}
