package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxPDFBytes = 32 << 20

var ErrInvalidPDF = errors.New("invalid PDF document")

// isPDF reports whether a response should be read as a PDF. The content type
// wins; the URL extension covers servers that answer with octet-stream.
func isPDF(contentType, pageURL string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "application/pdf" {
			return true
		}
		if mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return false
		}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func pdfText(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPDFBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}
	if len(data) > maxPDFBytes {
		return "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidPDF, maxPDFBytes)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(buf.String(), " ")), nil
}

func pdfTitle(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return u.Host
	}
	return name
}
