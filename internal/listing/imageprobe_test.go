package listing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rentwheels/web/internal/model"
)

// mockClientFactory はテスト用のSafeClientFactory。
// httptestサーバーのループバックアドレスを許可するため、
// 検証を差し替え可能にし、クライアントは素のhttp.Clientを返す。
type mockClientFactory struct {
	validateFn func(rawURL string) error
}

func (m *mockClientFactory) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

func (m *mockClientFactory) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

var _ SafeClientFactory = (*mockClientFactory)(nil)

func newTestProbe() *ImageProbe {
	return NewImageProbe(&mockClientFactory{}, 5*time.Second, 1<<20)
}

func TestImageProbe_Resolve_ImageContentType_ReturnsInputURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer ts.Close()

	probe := newTestProbe()
	got, err := probe.Resolve(context.Background(), ts.URL+"/photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ts.URL+"/photo.jpg" {
		t.Errorf("got %q, want input URL back", got)
	}
}

func TestImageProbe_Resolve_HTMLWithOGImage_ReturnsExtractedURL(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta property="og:title" content="Car page">
<meta property="og:image" content="https://cdn.example.com/car.png">
</head>
<body><img src="/inline.png"></body>
</html>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer ts.Close()

	probe := newTestProbe()
	got, err := probe.Resolve(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://cdn.example.com/car.png" {
		t.Errorf("got %q, want og:image URL", got)
	}
}

func TestImageProbe_Resolve_RelativeOGImage_ResolvedAgainstBase(t *testing.T) {
	page := `<html><head><meta property="og:image" content="/images/car.png"></head><body></body></html>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer ts.Close()

	probe := newTestProbe()
	got, err := probe.Resolve(context.Background(), ts.URL+"/car/42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ts.URL+"/images/car.png" {
		t.Errorf("got %q, want %q", got, ts.URL+"/images/car.png")
	}
}

func TestImageProbe_Resolve_HTMLWithoutOGImage_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>no image here</title></head><body></body></html>`))
	}))
	defer ts.Close()

	probe := newTestProbe()
	_, err := probe.Resolve(context.Background(), ts.URL)
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImageProbe_Resolve_NonImageNonHTML_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	probe := newTestProbe()
	_, err := probe.Resolve(context.Background(), ts.URL)
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImageProbe_Resolve_ErrorStatus_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	probe := newTestProbe()
	_, err := probe.Resolve(context.Background(), ts.URL)
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImageProbe_Resolve_BlockedInputURL_NoRequest(t *testing.T) {
	requested := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer ts.Close()

	factory := &mockClientFactory{
		validateFn: func(rawURL string) error { return errors.New("blocked network") },
	}
	probe := NewImageProbe(factory, 5*time.Second, 1<<20)

	_, err := probe.Resolve(context.Background(), ts.URL)
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if requested {
		t.Error("blocked URL must not be fetched")
	}
}

func TestImageProbe_Resolve_BlockedExtractedURL_Rejected(t *testing.T) {
	page := `<html><head><meta property="og:image" content="http://169.254.169.254/latest/meta-data"></head></html>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer ts.Close()

	factory := &mockClientFactory{
		validateFn: func(rawURL string) error {
			if rawURL != ts.URL {
				return errors.New("blocked network")
			}
			return nil
		},
	}
	probe := NewImageProbe(factory, 5*time.Second, 1<<20)

	_, err := probe.Resolve(context.Background(), ts.URL)
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImageProbe_Resolve_EmptyURL_Rejected(t *testing.T) {
	probe := newTestProbe()
	_, err := probe.Resolve(context.Background(), "")
	var validErr *model.ValidationError
	if !errors.As(err, &validErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExtractOGImage_StopsAtBody(t *testing.T) {
	page := `<html><head></head><body><meta property="og:image" content="https://cdn.example.com/late.png"></body></html>`
	if got := extractOGImage([]byte(page), "https://example.com"); got != "" {
		t.Errorf("og:image inside body must be ignored, got %q", got)
	}
}
