package fetch

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"fecingest/internal/config"
)

// commaPipe collapses every ",|" to "|".
type commaPipe struct{ transform.NopResetter }

func (commaPipe) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		b := src[nSrc]
		if b == ',' {
			if nSrc+1 >= len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+1 < len(src) && src[nSrc+1] == '|' {
				if nDst >= len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst] = '|'
				nDst++
				nSrc += 2
				continue
			}
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = b
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

func isQuote(r rune) bool {
	return r == '"' || r == '\''
}

// Cleaner returns the cleaning chain for sourceEncoding. The collapse runs
// before quote removal, so ",\"|" keeps its comma.
func Cleaner(sourceEncoding string) (transform.Transformer, error) {
	var decode transform.Transformer
	switch sourceEncoding {
	case config.EncodingLatin1:
		decode = charmap.ISO8859_1.NewDecoder()
	case config.EncodingUTF8, "":
		decode = unicode.UTF8.NewDecoder()
	default:
		return nil, fmt.Errorf("unsupported source encoding %q", sourceEncoding)
	}
	return transform.Chain(decode, commaPipe{}, runes.Remove(runes.Predicate(isQuote))), nil
}

// CleanFile applies the cleaning chain to src and writes dst.
func CleanFile(src, dst, sourceEncoding string) (int64, error) {
	cleaner, err := Cleaner(sourceEncoding)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, transform.NewReader(in, cleaner))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", src, err)
	}
	return n, nil
}

// CleanString applies the cleaning chain to s.
func CleanString(s, sourceEncoding string) (string, error) {
	cleaner, err := Cleaner(sourceEncoding)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, transform.NewReader(bytes.NewReader([]byte(s)), cleaner)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
