package pipeline

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// maxStreamBytes bounds a single decompressed content stream.
const maxStreamBytes = 8 << 20

var (
	pdfMagic     = []byte("%PDF")
	streamRe     = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	textOpRe     = regexp.MustCompile(`(?s)(\((?:\\.|[^\\)])*\)\s*(?:Tj|'|")|\[(?:\\.|[^\]])*\]\s*TJ|T\*|Td|TD)`)
	pdfStringRe  = regexp.MustCompile(`\((?:\\.|[^\\)])*\)`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
)

// readPages returns the text of each page of the document at path.
// PDFs are decoded best-effort: every content stream that draws text is
// one page. Anything else is read as plain text, pages split on form feed.
func readPages(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the pipeline download dir
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return strings.Split(string(data), "\f"), nil
	}

	var pages []string
	for _, m := range streamRe.FindAllSubmatch(data, -1) {
		content := inflate(m[1])
		if text := contentText(content); strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: no extractable text", path)
	}
	return pages, nil
}

// readText returns the whole document as one string.
func readText(path string) (string, error) {
	pages, err := readPages(path)
	if err != nil {
		return "", err
	}
	return strings.Join(pages, "\n"), nil
}

// inflate returns the decompressed stream, or raw when it is not zlib data.
func inflate(raw []byte) []byte {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, maxStreamBytes))
	if err != nil && len(out) == 0 {
		return raw
	}
	return out
}

// contentText pulls the shown strings out of a content stream.
func contentText(content []byte) string {
	var b strings.Builder
	for _, op := range textOpRe.FindAll(content, -1) {
		switch s := string(op); {
		case s == "T*" || s == "Td" || s == "TD":
			b.WriteByte('\n')
		default:
			for _, lit := range pdfStringRe.FindAll(op, -1) {
				b.WriteString(unescapePDF(lit[1 : len(lit)-1]))
			}
			if strings.HasSuffix(s, "'") || strings.HasSuffix(s, `"`) {
				b.WriteByte('\n')
			}
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(whitespaceRe.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func unescapePDF(s []byte) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			n, j := 0, i
			for ; j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7'; j++ {
				n = n*8 + int(s[j]-'0')
			}
			b.WriteByte(byte(n))
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// chunk splits text into pieces of at most size runes, breaking on
// whitespace where possible.
func chunk(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// excerpt returns the first n runes of text, marked when truncated.
func excerpt(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
