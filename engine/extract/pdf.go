package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/WessleyAI/docqa/engine/domain"
)

var contentPageRe = regexp.MustCompile(`Content_page_(\d+)`)

// PDF extracts one block per page. pdfcpu dumps each page's content stream
// and the shown strings are pulled out of the text operators.
type PDF struct {
	logger *slog.Logger
}

// NewPDF returns a PDF extractor.
func NewPDF(logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{logger: logger}
}

func (p *PDF) Extract(ctx context.Context, path string) ([]domain.TextBlock, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp("", "docqa-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}
	pages := make(map[int]*strings.Builder)
	for _, f := range files {
		m := contentPageRe.FindStringSubmatch(f.Name())
		if f.IsDir() || m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
		b, ok := pages[n]
		if !ok {
			b = &strings.Builder{}
			pages[n] = b
		}
		b.WriteString(ContentText(raw))
	}

	nums := make([]int, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		nums = append(nums, n)
	}
	for n := range pages {
		if n > pageCount {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	blocks := make([]domain.TextBlock, 0, len(nums))
	for _, n := range nums {
		text := ""
		if b, ok := pages[n]; ok {
			text = b.String()
		}
		blocks = append(blocks, domain.TextBlock{
			Text: text,
			Meta: map[string]string{"source": path, "page": strconv.Itoa(n)},
		})
	}
	p.logger.Debug("extract: pdf", "path", path, "pages", pageCount)
	return blocks, nil
}

// ContentText returns the strings shown by the text operators of a PDF
// content stream. Line-moving operators become newlines. The result is
// always valid UTF-8.
func ContentText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
	)
	newline := func() {
		if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
			out.WriteByte('\n')
		}
	}
	show := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(stream, i+1)
			pending = append(pending, decodeString(s))
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '<':
			s, next := readHex(stream, i+1)
			pending = append(pending, decodeString(s))
			i = next
		case isOperatorStart(c):
			j := i
			for j < len(stream) && isOperatorByte(stream[j]) {
				j++
			}
			switch string(stream[i:j]) {
			case "Tj", "TJ":
				show()
			case "'", `"`:
				newline()
				show()
			case "T*", "Td", "TD":
				newline()
			case "ET":
				newline()
			}
			pending = pending[:0]
			i = j
		default:
			i++
		}
	}
	return out.String()
}

// decodeString converts the raw bytes of a PDF string to UTF-8. Strings with
// a UTF-16BE byte order mark are decoded as such, valid UTF-8 is kept, and
// anything else is read as WinAnsi (Windows-1252).
func decodeString(raw string) string {
	if strings.HasPrefix(raw, "\xfe\xff") {
		if s, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().String(raw); err == nil {
			return s
		}
	}
	if utf8.ValidString(raw) {
		return raw
	}
	if s, err := charmap.Windows1252.NewDecoder().String(raw); err == nil {
		return s
	}
	return strings.ToValidUTF8(raw, "\uFFFD")
}

func isOperatorStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '\'' || c == '"'
}

func isOperatorByte(c byte) bool {
	return isOperatorStart(c) || c == '*' || (c >= '0' && c <= '9')
}

func readLiteral(b []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 1
	for i < len(b) {
		c := b[i]
		switch c {
		case '\\':
			i++
			if i >= len(b) {
				return sb.String(), i
			}
			e := b[i]
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := 0
					k := 0
					for k < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7' {
						v = v*8 + int(b[i]-'0')
						i++
						k++
					}
					sb.WriteByte(byte(v))
					continue
				}
				sb.WriteByte(e)
			}
			i++
		case '(':
			depth++
			sb.WriteByte(c)
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return sb.String(), i
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), i
}

func readHex(b []byte, i int) (string, int) {
	var digits []byte
	for i < len(b) && b[i] != '>' {
		if isHexDigit(b[i]) {
			digits = append(digits, b[i])
		}
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for k := 0; k < len(digits); k += 2 {
		v, _ := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		out = append(out, byte(v))
	}
	return string(out), i + 1
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
