package bot

import (
	"fmt"
	"html"
	"strings"

	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tmdb"
)

const (
	welcomeText = "🎬 <b>Welcome to Movie Bot!</b>\n\n" +
		"Send me any movie name to search.\n\n" +
		"<b>Examples:</b>\n" +
		"• Kill Bill\n" +
		"• Dune 2021\n" +
		"• Avengers Endgame"

	helpText = "🎬 <b>Movie Bot Help</b>\n\n" +
		"<b>How to Use:</b>\n" +
		"Just send me a movie name!\n\n" +
		"<b>Examples:</b>\n" +
		"• Kill Bill\n" +
		"• Dune\n" +
		"• Avengers Endgame"

	adminHelpText = "\n\n━━━━━━━━━━━━━━━\n" +
		"👑 <b>Admin Commands:</b>\n\n" +
		"<code>/add Movie Name | quality</code> (reply to a file)\n" +
		"<code>/addpart Movie | part | quality</code> (reply to a file)\n" +
		"<code>/delete Movie Name</code>\n" +
		"<code>/delete Movie Name | quality</code>\n" +
		"<code>/list</code> - List recent movies\n" +
		"<code>/stats</code> - Statistics\n" +
		"<code>/broadcast</code> - Reply to a message to send it to all users"

	joinText        = "🔒 <b>Join to Continue</b>\n\nYou must join our channel first."
	expiredText     = "⏰ Link expired! Please search again."
	unavailableText = "❌ File not available. Try searching again."
	noFilesText     = "❌ No files available for this movie."
	tooShortText    = "❌ Enter at least 2 characters!"
	notFoundText    = "❌ Movie not found! Check spelling."
	generatingText  = "🔄 Generating link..."
	tryAgainText    = "⚠️ Something went wrong. Please try again in a moment."
)

func cardCaption(m *storage.Movie, info *tmdb.Info) string {
	var b strings.Builder
	if info != nil {
		fmt.Fprintf(&b, "🎬 <b>%s</b>", html.EscapeString(info.Title))
		if info.Year != "" {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(info.Year))
		}
		fmt.Fprintf(&b, "\n⭐ %.1f/10", info.Rating)
	} else {
		fmt.Fprintf(&b, "🎬 <b>%s</b>", html.EscapeString(m.Title))
	}
	if m.PartCount() > 1 {
		fmt.Fprintf(&b, "\n📦 Parts: %d", m.PartCount())
	}
	if labels := m.QualityLabels(1); len(labels) > 0 {
		list := make([]string, 0, len(labels))
		for _, q := range labels {
			if size := m.Qualities[q].Size; size != "" {
				list = append(list, fmt.Sprintf("%s (%s)", q, size))
			} else {
				list = append(list, q)
			}
		}
		fmt.Fprintf(&b, "\n🎞️ Available: %s", html.EscapeString(strings.Join(list, ", ")))
	}
	if info != nil && info.Overview != "" {
		fmt.Fprintf(&b, "\n\n%s", html.EscapeString(info.ShortOverview(200)))
	}
	return b.String()
}

func notInCatalogText(info *tmdb.Info) string {
	rating := "N/A"
	if info.Rating > 0 {
		rating = fmt.Sprintf("%.1f", info.Rating)
	}
	return fmt.Sprintf("❌ <b>Not in database</b>\n\nFound on TMDB:\n🎬 %s (%s)\n⭐ %s/10\n\nContact admin to add!",
		html.EscapeString(info.Title), html.EscapeString(info.Year), rating)
}

func partsText(m *storage.Movie) string {
	return fmt.Sprintf("🎬 <b>%s</b>\n\nThis movie has %d parts.\nSelect one:", html.EscapeString(m.Title), m.PartCount())
}

func qualitiesText(m *storage.Movie, part int) string {
	return fmt.Sprintf("🎬 <b>%s</b>\n\n📦 Part: %d\n\nSelect quality:", html.EscapeString(m.Title), part)
}

func linkText(m *storage.Movie, part int, quality, size string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>%s</b>\n\n📦 Part: %d\n🎞️ Quality: %s", html.EscapeString(m.Title), part, html.EscapeString(quality))
	if size != "" {
		fmt.Fprintf(&b, "\n📁 Size: %s", html.EscapeString(size))
	}
	b.WriteString("\n\n👇 Click to download:")
	return b.String()
}

// humanSize renders a byte count the way uploaders usually label files.
func humanSize(n int64) string {
	const unit = 1024
	if n <= 0 {
		return ""
	}
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
