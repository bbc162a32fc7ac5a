package attachment

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/coursepilot/assistant/internal/conversation"
)

// ingestPDF extracts text page by page up to the page cap, prefixing each page
// with a marker. A PDF with zero extractable characters (scanned document) is
// a ready result carrying ScannedPDFPlaceholder, not an error.
func (ing *Ingestor) ingestPDF(f File, a *Attachment) {
	text, pages, err := extractPDFText(f.Data, ing.cfg.MaxPDFPages, ing.cfg.MaxChars)
	if err != nil {
		a.Status = StatusError
		a.Error = fmt.Sprintf("PDF 解析失败: %v", err)
		return
	}

	a.Status = StatusReady
	if strings.TrimSpace(text) == "" {
		a.ExtractedText = ScannedPDFPlaceholder
		ing.logger.Debug("pdf had no extractable text", "name", f.Name, "pages", pages)
		return
	}
	a.ExtractedText, _ = conversation.CapText(text, ing.cfg.MaxChars)
}

// extractPDFText reads up to maxPages pages of text. Extraction stops early
// once charCap runes have been accumulated; the caller applies the final cap
// with its marker.
func extractPDFText(data []byte, maxPages, charCap int) (text string, pages int, err error) {
	// The parser panics on some malformed cross-reference tables; treat a
	// panic as a parse error rather than taking the process down.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages = reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages && i <= maxPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := pageText(page)
		if perr != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&sb, "[第 %d 页]\n%s\n", i, strings.TrimSpace(pageText))
		if sb.Len() >= charCap*4 { // rune cap upper bound in bytes
			break
		}
	}
	return sb.String(), pages, nil
}

// pageText extracts one page's text, containing the parser's panics to that
// page: pages without content streams (scanned documents) just read empty.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unreadable page: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
