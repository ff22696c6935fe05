// Package monetize builds links to the ad page that forwards users to the
// actual file.
package monetize

import (
	"net/url"
	"strings"
)

const placeholder = "YOUR_GITHUB_USERNAME"

type Config struct {
	Enabled bool
	// PageURL is the ad page, e.g. https://someone.github.io/adspage.
	PageURL string
	// FileBaseURL is the public prefix under which file ids are served.
	FileBaseURL string
}

type Linker struct {
	cfg Config
}

func New(cfg Config) *Linker {
	cfg.PageURL = strings.TrimRight(strings.TrimSpace(cfg.PageURL), "/")
	cfg.FileBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FileBaseURL), "/")
	return &Linker{cfg: cfg}
}

// Enabled is false when the flag is off, no page is configured, or the page
// still carries the template placeholder.
func (l *Linker) Enabled() bool {
	if l == nil || !l.cfg.Enabled || l.cfg.PageURL == "" {
		return false
	}
	return !strings.Contains(l.cfg.PageURL, placeholder)
}

// FileURL maps a Telegram file id to its public URL. Empty when no file base
// URL is configured.
func (l *Linker) FileURL(fileID string) string {
	if l == nil || l.cfg.FileBaseURL == "" || fileID == "" {
		return ""
	}
	return l.cfg.FileBaseURL + "/" + url.PathEscape(fileID)
}

// CreateDownloadLink escapes every field on its own so that '&', '?' and
// spaces in names survive the round trip.
func (l *Linker) CreateDownloadLink(fileURL, fileName, fileSize, quality string) string {
	if quality == "" {
		quality = "HD"
	}
	var b strings.Builder
	b.WriteString(l.cfg.PageURL)
	b.WriteString("/?url=")
	b.WriteString(Escape(fileURL))
	b.WriteString("&name=")
	b.WriteString(Escape(fileName))
	b.WriteString("&size=")
	b.WriteString(Escape(fileSize))
	b.WriteString("&quality=")
	b.WriteString(Escape(quality))
	return b.String()
}

// Escape percent-encodes everything outside the unreserved set, spaces as %20.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
