package song

import (
	"unicode"
	"unicode/utf8"
)

const untitled = "Untitled Song"

// deriveTitle picks the song title from the request fields: described lyrics
// win over the full song description, otherwise a fixed fallback. Only the
// first rune is upper-cased; the rest of the string is left untouched.
func deriveTitle(describedLyrics, fullDescribedSong string) string {
	title := untitled
	if describedLyrics != "" {
		title = describedLyrics
	} else if fullDescribedSong != "" {
		title = fullDescribedSong
	}
	return upperFirst(title)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	u := unicode.ToUpper(r)
	if u == r {
		return s
	}
	return string(u) + s[size:]
}
