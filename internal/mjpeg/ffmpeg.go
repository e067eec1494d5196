package mjpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// FFmpegSource transcodes any ffmpeg-readable stream into concatenated JPEGs on
// the process's stdout.
type FFmpegSource struct {
	URL   string
	FPS   int // 0 keeps the input rate
	Width int // 0 keeps the input size
	// ResolveYouTube runs URL through yt-dlp before every connect.
	ResolveYouTube bool
}

func (s *FFmpegSource) Open(ctx context.Context) (io.ReadCloser, error) {
	input := *s
	if s.ResolveYouTube {
		resolved, err := resolveYouTubeURL(ctx, s.URL)
		if err != nil {
			return nil, &StreamError{Op: "resolve", URL: s.URL, Err: err}
		}
		input.URL = resolved
	}

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, "ffmpeg", input.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &StreamError{Op: "open", URL: s.URL, Err: fmt.Errorf("ffmpeg stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, &StreamError{Op: "open", URL: s.URL, Err: fmt.Errorf("ffmpeg stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &StreamError{Op: "open", URL: s.URL, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	return &ffmpegBody{ReadCloser: stdout, cmd: cmd, cancel: cancel}, nil
}

func (s *FFmpegSource) String() string { return s.URL }

func (s *FFmpegSource) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(s.URL, "rtsp://") || strings.HasPrefix(s.URL, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	}

	args = append(args, "-i", s.URL)

	var filters []string
	if s.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", s.FPS))
	}
	if s.Width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-1", s.Width))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// ffmpegBody kills the process when the reader is closed.
type ffmpegBody struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	once   sync.Once
}

func (b *ffmpegBody) Close() error {
	b.once.Do(func() {
		b.cancel()
		_ = b.ReadCloser.Close()
		_ = b.cmd.Wait()
	})
	return nil
}
