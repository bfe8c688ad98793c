package files

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkoukk/tiktoken-go"
)

// ErrUnsupportedType is returned for uploads outside the accepted set.
// Callers surface it as a warning and must not touch the store.
var ErrUnsupportedType = errors.New("unsupported file type")

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEPDF  = "application/pdf"
)

type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Detect sniffs the upload's content type from its bytes rather than trusting
// the extension, falling back to the extension when sniffing is inconclusive.
func Detect(name string, data []byte) (*Attachment, error) {
	mime := http.DetectContentType(data)

	switch mime {
	case MIMEJPEG, MIMEPNG, MIMEPDF:
	default:
		switch strings.ToLower(filepath.Ext(name)) {
		case ".jpg", ".jpeg":
			mime = MIMEJPEG
		case ".png":
			mime = MIMEPNG
		case ".pdf":
			mime = MIMEPDF
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
		}
	}

	return &Attachment{Name: name, MIME: mime, Data: data}, nil
}

func (a *Attachment) IsPDF() bool {
	return a.MIME == MIMEPDF
}

// DataURI encodes the attachment as a base64 data URI suitable for an
// image_url content part.
func (a *Attachment) DataURI() string {
	return "data:" + a.MIME + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// ExtractPDFText pulls the plain text of every page in order and concatenates
// it. Pages with no extractable text are skipped; there is no OCR fallback.
func ExtractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// TokenCount measures text in cl100k_base tokens, the encoding the selected
// model variants use. Inlined PDF text is not truncated, only measured.
func TokenCount(text string) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, fmt.Errorf("load encoding: %w", err)
	}
	return len(enc.Encode(text, nil, nil)), nil
}
