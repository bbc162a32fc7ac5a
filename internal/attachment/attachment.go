// Package attachment converts raw user-supplied files into typed, size-capped
// extracts the assistant can feed to a model.
//
// Ingest never returns an error: every failure is encoded in the Attachment's
// Status and Error fields so the UI can keep a failed upload visible until the
// user removes it. Extraction is a pure function of the file bytes; nothing in
// this package performs network I/O.
package attachment

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/coursepilot/assistant/internal/conversation"
)

// Kind classifies what an attachment is after ingestion.
type Kind string

// Attachment kinds.
const (
	KindImage       Kind = "image"
	KindPDF         Kind = "pdf"
	KindDocx        Kind = "docx"
	KindExcel       Kind = "excel"
	KindText        Kind = "text"
	KindUnsupported Kind = "unsupported"
)

// Status reports whether an attachment is usable.
type Status string

// Attachment statuses.
const (
	StatusReady Status = "ready"
	StatusError Status = "error"
)

// ScannedPDFPlaceholder is returned instead of empty text when a PDF has no
// extractable characters (typically a scanned document). It is a ready result,
// not an error.
const ScannedPDFPlaceholder = "未提取到可读文本（可能为扫描版 PDF，无法识别文字内容）。"

// File is the raw upload handed to the ingestor.
type File struct {
	Name string
	MIME string // declared content type; may be empty or wrong
	Data []byte
}

// Attachment is the typed result of ingesting one file.
type Attachment struct {
	ID            string
	Name          string
	Size          int64
	Extension     string
	Kind          Kind
	Status        Status
	ExtractedText string
	PreviewURL    string // images only: data URL
	Error         string // human-readable reason when Status is error
}

// Ref returns the summary stored on the user message this attachment rides on.
func (a Attachment) Ref() conversation.AttachmentRef {
	return conversation.AttachmentRef{ID: a.ID, Name: a.Name, Kind: string(a.Kind)}
}

// Config bounds ingestion. The zero value is not useful; use DefaultConfig.
type Config struct {
	MaxBytes    int64 // byte ceiling per file
	MaxChars    int   // shared truncation cap for all extracted text
	MaxPDFPages int   // pages read from a PDF
	MaxSheets   int   // sheets rendered from a workbook
}

// DefaultConfig returns the production ingestion limits.
func DefaultConfig() Config {
	return Config{
		MaxBytes:    8 << 20,
		MaxChars:    8000,
		MaxPDFPages: 10,
		MaxSheets:   3,
	}
}

// Ingestor converts files into attachments.
type Ingestor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Ingestor. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg = DefaultConfig()
	}
	return &Ingestor{cfg: cfg, logger: logger}
}

// Ingest converts one file into an Attachment. It never fails: oversized,
// unsupported, or unreadable files come back with Status error and a
// human-readable reason.
func (ing *Ingestor) Ingest(f File) Attachment {
	a := Attachment{
		ID:        uuid.NewString(),
		Name:      f.Name,
		Size:      int64(len(f.Data)),
		Extension: strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), ".")),
	}

	if a.Size > ing.cfg.MaxBytes {
		a.Kind = classify(f, a.Extension)
		a.Status = StatusError
		a.Error = fmt.Sprintf("文件超过 %d MiB 上限，无法读取", ing.cfg.MaxBytes>>20)
		return a
	}

	a.Kind = classify(f, a.Extension)

	switch a.Kind {
	case KindImage:
		ing.ingestImage(f, &a)
	case KindPDF:
		ing.ingestPDF(f, &a)
	case KindDocx:
		ing.ingestDocx(f, &a)
	case KindExcel:
		ing.ingestSheet(f, &a)
	case KindText:
		ing.ingestPlainText(f, &a)
	default:
		a.Status = StatusError
		if a.Extension == "doc" {
			a.Error = "不支持旧版 .doc 二进制格式，请另存为 .docx 后重新上传"
		} else {
			a.Error = "不支持的文件类型，请上传图片、PDF、Word(docx)、Excel 或文本文件"
		}
	}

	ing.logger.Debug("file ingested",
		"name", a.Name,
		"kind", a.Kind,
		"status", a.Status,
		"size", a.Size,
		"text_len", len(a.ExtractedText))
	return a
}

// IngestAll ingests up to slots files and reports how many were turned away.
// The cap mirrors the per-message attachment limit: attachments past the
// available slots are not ingested at all.
func (ing *Ingestor) IngestAll(files []File, slots int) (attachments []Attachment, overflow int) {
	if slots > conversation.MaxAttachments {
		slots = conversation.MaxAttachments
	}
	if slots < 0 {
		slots = 0
	}
	if len(files) > slots {
		overflow = len(files) - slots
		files = files[:slots]
	}
	attachments = make([]Attachment, 0, len(files))
	for _, f := range files {
		attachments = append(attachments, ing.Ingest(f))
	}
	if overflow > 0 {
		ing.logger.Info("attachment slots exhausted", "accepted", len(attachments), "overflow", overflow)
	}
	return attachments, overflow
}

// classify decides the attachment kind from the declared MIME type first and
// the file extension second. The declared type wins because browsers set it
// from actual upload metadata; the extension is the fallback for octet-stream
// and empty declarations.
func classify(f File, ext string) Kind {
	mime := strings.ToLower(f.MIME)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case mime == "application/pdf":
		return KindPDF
	case mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDocx
	case mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return KindExcel
	case mime == "text/csv" || mime == "text/tab-separated-values":
		return KindExcel
	case mime == "application/msword":
		return KindUnsupported // legacy .doc, reported explicitly
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "application/xml":
		return KindText
	}

	switch ext {
	case "png", "jpg", "jpeg", "gif", "webp", "bmp":
		return KindImage
	case "pdf":
		return KindPDF
	case "docx":
		return KindDocx
	case "xlsx", "csv", "tsv":
		return KindExcel
	case "txt", "md", "markdown", "json", "xml", "log", "yml", "yaml",
		"go", "py", "java", "c", "cpp", "h", "js", "ts", "html", "css", "sql", "sh":
		return KindText
	}
	return KindUnsupported
}

// ingestImage produces a data-URL preview. Image content is referenced, never
// read: no OCR happens here, downstream orchestration only mentions the file.
func (ing *Ingestor) ingestImage(f File, a *Attachment) {
	mime := f.MIME
	if !strings.HasPrefix(strings.ToLower(mime), "image/") {
		// Declared type lied or is missing; sniff the magic bytes.
		mime = http.DetectContentType(f.Data)
		if !strings.HasPrefix(mime, "image/") {
			a.Status = StatusError
			a.Error = "无法识别的图片内容"
			return
		}
	}
	a.Status = StatusReady
	a.PreviewURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// ingestPlainText reads the file verbatim under the shared truncation cap.
func (ing *Ingestor) ingestPlainText(f File, a *Attachment) {
	text := string(f.Data)
	if strings.TrimSpace(text) == "" {
		a.Status = StatusError
		a.Error = "文件内容为空"
		return
	}
	a.Status = StatusReady
	a.ExtractedText, _ = conversation.CapText(text, ing.cfg.MaxChars)
}
