package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBadStatus is wrapped by StreamError when the camera answers with a non-2xx status.
var ErrBadStatus = errors.New("unexpected response status")

// StreamError describes a failed connect or read. The demuxer recovers from it
// by reconnecting after the backoff.
type StreamError struct {
	Op         string // "open" or "read"
	URL        string
	StatusCode int
	Err        error
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream %s %s: %v (status %d)", e.Op, e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("stream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Source opens one connection to a camera. The returned body yields
// concatenated JPEG images; closing it releases the transport.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// HTTPSource reads an MJPEG stream over HTTP(S). Multipart headers in the body
// are not parsed; the demuxer only looks at JPEG markers.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource builds a source whose client bounds connect and header time
// but never the body, which is unbounded.
func NewHTTPSource(rawURL string, dialTimeout time.Duration) *HTTPSource {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: dialTimeout,
	}
	return &HTTPSource{URL: rawURL, Client: &http.Client{Transport: transport}}
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &StreamError{Op: "open", URL: s.URL, Err: err}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &StreamError{Op: "open", URL: s.URL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StreamError{Op: "open", URL: s.URL, StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}
	return resp.Body, nil
}

func (s *HTTPSource) String() string { return s.URL }

// SourceOptions configures NewSource. FPS and Width only apply to sources
// transcoded through ffmpeg.
type SourceOptions struct {
	DialTimeout time.Duration
	FPS         int
	Width       int
}

// NewSource picks a source by URL scheme: HTTP(S) is read directly, anything
// else (rtsp, files, ...) is transcoded to MJPEG through ffmpeg. YouTube
// links go through yt-dlp and ffmpeg.
func NewSource(rawURL string, opts SourceOptions) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if isYouTube(u) {
			return &FFmpegSource{URL: rawURL, FPS: opts.FPS, Width: opts.Width, ResolveYouTube: true}, nil
		}
		return NewHTTPSource(rawURL, opts.DialTimeout), nil
	case "":
		return nil, fmt.Errorf("stream url %q has no scheme", rawURL)
	default:
		return &FFmpegSource{URL: rawURL, FPS: opts.FPS, Width: opts.Width}, nil
	}
}
