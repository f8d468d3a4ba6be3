package attachment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteLink(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			"https://drive.google.com/file/d/1AbC_d-9/view?usp=sharing",
			"https://drive.google.com/uc?export=download&id=1AbC_d-9",
		},
		{
			"https://drive.google.com/open?id=XYZ123",
			"https://drive.google.com/uc?export=download&id=XYZ123",
		},
		{
			"https://drive.google.com/uc?export=download&id=XYZ123",
			"https://drive.google.com/uc?export=download&id=XYZ123",
		},
		{"  https://example.com/a.png ", "https://example.com/a.png"},
		{"https://drive.google.com/drive/folders", "https://drive.google.com/drive/folders"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RewriteLink(tt.in), tt.in)
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestFetcher_Fetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chart.png":
			w.Write(pngHeader)
		case "/download":
			w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
			w.Write([]byte("plain notes"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	f := NewFetcher(ts.Client(), 64)
	ctx := context.Background()

	att, err := f.Fetch(ctx, ts.URL+"/chart.png")
	require.NoError(t, err)
	assert.Equal(t, "chart.png", att.Name)
	assert.Equal(t, "image/png", att.ContentType)

	att, err = f.Fetch(ctx, ts.URL+"/download")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", att.Name)
	assert.True(t, strings.HasPrefix(att.ContentType, "text/plain"))

	_, err = f.Fetch(ctx, ts.URL+"/big")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Fetch(ctx, ts.URL+"/missing")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, "report.pdf")
	assert.ErrorIs(t, err, ErrUnsupported)
}
