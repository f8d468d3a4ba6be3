// Package attachment turns a schedule row's attachment reference into
// bytes ready to upload.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"sheetbot-go/internal/chat"
)

var (
	// ErrUnsupported is returned for references that are not http(s) URLs.
	ErrUnsupported = errors.New("unsupported attachment reference")
	// ErrTooLarge is returned when the body exceeds the size limit.
	ErrTooLarge = errors.New("attachment too large")
)

var (
	drivePathID  = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)
	driveQueryID = regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`)
)

// RewriteLink converts a Google Drive sharing link into a direct download
// link. Other references are returned trimmed but otherwise unchanged.
func RewriteLink(ref string) string {
	ref = strings.TrimSpace(ref)
	if !strings.Contains(ref, "drive.google.com") {
		return ref
	}
	var id string
	if m := drivePathID.FindStringSubmatch(ref); m != nil {
		id = m[1]
	} else if m := driveQueryID.FindStringSubmatch(ref); m != nil {
		id = m[1]
	}
	if id == "" {
		return ref
	}
	return "https://drive.google.com/uc?export=download&id=" + id
}

// Fetcher downloads attachments.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher returns a Fetcher using client, refusing bodies larger than
// maxBytes.
func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads ref and sniffs its content type.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*chat.Attachment, error) {
	link := RewriteLink(ref)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.maxBytes)
	}

	mt := mimetype.Detect(data)
	return &chat.Attachment{
		Name:        fileName(u, resp, mt),
		ContentType: mt.String(),
		Data:        data,
	}, nil
}

func fileName(u *url.URL, resp *http.Response, mt *mimetype.MIME) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "uc" || !strings.Contains(base, ".") {
		return "attachment" + mt.Extension()
	}
	return base
}
