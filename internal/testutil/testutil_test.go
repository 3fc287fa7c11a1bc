package testutil

import (
	"image"
	"image/color"
	"net/http"
	"strings"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestSolidImage(t *testing.T) {
	t.Parallel()
	c := color.NRGBA{R: 128, G: 128, B: 0, A: 255}
	img := SolidImage(7, 3, c)
	if got := img.Bounds(); got != image.Rect(0, 0, 7, 3) {
		t.Fatalf("bounds = %v, want 7x3", got)
	}
	for _, p := range []image.Point{{0, 0}, {6, 2}, {3, 1}} {
		if got := img.NRGBAAt(p.X, p.Y); got != c {
			t.Errorf("pixel %v = %v, want %v", p, got, c)
		}
	}
}

func TestDebugRequest(t *testing.T) {
	t.Parallel()
	req := DebugRequest(http.MethodPost, "/debug/x", strings.NewReader("a=b"))
	if req.Method != http.MethodPost {
		t.Errorf("method = %s", req.Method)
	}
	if !strings.HasPrefix(req.RemoteAddr, "127.0.0.1:") {
		t.Errorf("remote addr = %s, want loopback", req.RemoteAddr)
	}
}

func TestServeDebug(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(r.RemoteAddr))
	})
	rec := ServeDebug(h, "/debug/")
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
	if !strings.HasPrefix(rec.Body.String(), "127.0.0.1:") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
