package sqlite

import (
	"strings"
	"unicode"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 1000

// Chunk splits text into passages along blank lines. Consecutive short
// paragraphs are merged up to size characters; a paragraph longer than
// size is cut at the last whitespace before the limit.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, para := range paragraphs(text) {
		for _, piece := range split(para, size) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// paragraphs returns the non-empty blank-line separated blocks of text,
// with inner line breaks folded to spaces.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if p := strings.Join(strings.Fields(block), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// split cuts p into pieces of at most size bytes, preferring whitespace.
func split(p string, size int) []string {
	var out []string
	for len(p) > size {
		cut := strings.LastIndexFunc(p[:size+1], unicode.IsSpace)
		if cut <= 0 {
			cut = size
			// Never split inside a UTF-8 sequence.
			for cut > 0 && !isRuneStart(p[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		out = append(out, strings.TrimSpace(p[:cut]))
		p = strings.TrimSpace(p[cut:])
	}
	if p != "" {
		out = append(out, p)
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
