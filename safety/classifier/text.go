package classifier

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"github.com/spaolacci/murmur3"
)

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isUpper(r rune) bool {
	return unicode.IsUpper(r)
}

// returns a fast, compact hash of normalized message text, used for duplicate detection
//
// current implementation uses murmur3, default seed. whitespace and case differences are ignored. returns 0 for empty text (attachment-only messages, stickers).
func hashOfText(s string) uint64 {
	norm := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if norm == "" {
		return 0
	}
	return murmur3.Sum64([]byte(norm))
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		// misc symbols & pictographs, emoticons, transport, supplemental symbols
		return true
	case r >= 0x2600 && r <= 0x27BF:
		// misc symbols, dingbats
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		// regional indicators (flags)
		return true
	}
	return false
}

// Counts emoji in text: unicode emoji are counted per grapheme cluster (so multi-codepoint sequences count once), plus platform custom emoji like "<:name:1234>".
func countEmoji(text string) int {
	count := len(customEmojiRegex.FindAllString(text, -1))
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		runes := gr.Runes()
		if len(runes) > 0 && isEmojiRune(runes[0]) {
			count++
		}
	}
	return count
}
