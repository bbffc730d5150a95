package usecase

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
)

const messageTimeLayout = "2006-01-02 15:04:05"

// maxErrorTextLen bounds the error part of a failure report in UTF-16 units,
// the unit Telegram counts against its 4096 limit for message text.
const maxErrorTextLen = 3000

// SuccessMessage is the HTML caption attached to a delivered artifact.
func SuccessMessage(sourceName, fileName string, size int64, backupType string, duration time.Duration, at time.Time) string {
	var b strings.Builder
	b.WriteString("✅ <b>Backup Completed Successfully</b>\n\n")
	fmt.Fprintf(&b, "📋 <b>Source:</b> %s\n", html.EscapeString(sourceName))
	fmt.Fprintf(&b, "📁 <b>File:</b> %s\n", html.EscapeString(fileName))
	fmt.Fprintf(&b, "📊 <b>Size:</b> %s\n", humanize.IBytes(uint64(max(size, 0))))
	fmt.Fprintf(&b, "🔧 <b>Type:</b> %s\n", html.EscapeString(backupType))
	if duration > 0 {
		fmt.Fprintf(&b, "⏱️ <b>Duration:</b> %.1fs\n", duration.Seconds())
	}
	fmt.Fprintf(&b, "🕐 <b>Completed:</b> %s", at.Format(messageTimeLayout))
	return b.String()
}

// FailureMessage is the HTML text sent when a run fails.
func FailureMessage(sourceName, backupType, errText string, at time.Time) string {
	var b strings.Builder
	b.WriteString("❌ <b>Backup Failed</b>\n\n")
	fmt.Fprintf(&b, "📋 <b>Source:</b> %s\n", html.EscapeString(sourceName))
	fmt.Fprintf(&b, "🔧 <b>Type:</b> %s\n", html.EscapeString(backupType))
	fmt.Fprintf(&b, "⚠️ <b>Error:</b> %s\n", html.EscapeString(errorTail(errText, maxErrorTextLen)))
	fmt.Fprintf(&b, "🕐 <b>Failed at:</b> %s", at.Format(messageTimeLayout))
	return b.String()
}

// errorTail keeps the end of text, where dump tools print the actual cause,
// so that it fits in limit UTF-16 units.
func errorTail(text string, limit int) string {
	runes := []rune(text)
	n := 0
	for i := len(runes) - 1; i >= 0; i-- {
		n += utf16.RuneLen(runes[i])
		if n > limit-1 {
			return "…" + string(runes[i+1:])
		}
	}
	return text
}
