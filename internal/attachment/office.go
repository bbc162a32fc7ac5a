package attachment

import (
	"bytes"
	"fmt"
	"strings"

	docx "github.com/fumiama/go-docx"
	"github.com/xuri/excelize/v2"

	"github.com/coursepilot/assistant/internal/conversation"
)

// ingestDocx extracts raw paragraph and table text from a .docx archive.
// Legacy binary .doc never reaches here; classify reports it unsupported.
func (ing *Ingestor) ingestDocx(f File, a *Attachment) {
	doc, err := docx.Parse(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		a.Status = StatusError
		a.Error = fmt.Sprintf("Word 文档解析失败: %v", err)
		return
	}

	var sb strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			if s := strings.TrimSpace(v.String()); s != "" {
				sb.WriteString(s)
				sb.WriteByte('\n')
			}
		case *docx.Table:
			if s := strings.TrimSpace(v.String()); s != "" {
				sb.WriteString(s)
				sb.WriteByte('\n')
			}
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		a.Status = StatusError
		a.Error = "Word 文档中没有可读文本"
		return
	}
	a.Status = StatusReady
	a.ExtractedText, _ = conversation.CapText(text, ing.cfg.MaxChars)
}

// ingestSheet renders a workbook (or a bare CSV/TSV file) as delimited text.
// Workbooks contribute up to MaxSheets sheets, each prefixed with its name;
// trailing blank rows are dropped.
func (ing *Ingestor) ingestSheet(f File, a *Attachment) {
	if a.Extension == "csv" || a.Extension == "tsv" ||
		strings.HasPrefix(strings.ToLower(f.MIME), "text/") {
		ing.ingestDelimitedText(f, a)
		return
	}

	wb, err := excelize.OpenReader(bytes.NewReader(f.Data))
	if err != nil {
		a.Status = StatusError
		a.Error = fmt.Sprintf("Excel 文件解析失败: %v", err)
		return
	}
	defer wb.Close()

	var sb strings.Builder
	sheets := wb.GetSheetList()
	if len(sheets) > ing.cfg.MaxSheets {
		sheets = sheets[:ing.cfg.MaxSheets]
	}
	for _, name := range sheets {
		rows, rerr := wb.GetRows(name)
		if rerr != nil {
			continue
		}
		rows = dropTrailingBlankRows(rows)
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "[工作表: %s]\n", name)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		a.Status = StatusError
		a.Error = "表格中没有可读数据"
		return
	}
	a.Status = StatusReady
	a.ExtractedText, _ = conversation.CapText(text, ing.cfg.MaxChars)
}

// ingestDelimitedText handles CSV/TSV, which are already delimited: the file
// is read verbatim under the cap, prefixed like a single-sheet workbook.
func (ing *Ingestor) ingestDelimitedText(f File, a *Attachment) {
	lines := strings.Split(strings.ReplaceAll(string(f.Data), "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		a.Status = StatusError
		a.Error = "表格中没有可读数据"
		return
	}
	text := fmt.Sprintf("[工作表: %s]\n%s\n", f.Name, strings.Join(lines, "\n"))
	a.Status = StatusReady
	a.ExtractedText, _ = conversation.CapText(text, ing.cfg.MaxChars)
}

// dropTrailingBlankRows removes rows whose cells are all empty from the tail.
func dropTrailingBlankRows(rows [][]string) [][]string {
	for len(rows) > 0 {
		last := rows[len(rows)-1]
		blank := true
		for _, cell := range last {
			if strings.TrimSpace(cell) != "" {
				blank = false
				break
			}
		}
		if !blank {
			break
		}
		rows = rows[:len(rows)-1]
	}
	return rows
}
