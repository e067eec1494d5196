package mjpeg

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

var youTubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

func isYouTube(u *url.URL) bool {
	return youTubeHosts[strings.ToLower(u.Hostname())]
}

// resolveYouTubeURL uses yt-dlp to get the direct media URL behind a YouTube
// link. The result expires, so it is resolved again on every connect.
func resolveYouTubeURL(ctx context.Context, youtubeURL string) (string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", "best[height<=720]",
		"--no-playlist",
		youtubeURL,
	)

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}
	return firstURL(string(output))
}

// firstURL picks the first line; yt-dlp may print separate video and audio URLs.
func firstURL(output string) (string, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(output), "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}
	return line, nil
}
