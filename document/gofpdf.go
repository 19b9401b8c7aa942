package document

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// GofpdfBackend renders sessions with the gofpdf library.
type GofpdfBackend struct{}

func NewGofpdfBackend() *GofpdfBackend {
	return &GofpdfBackend{}
}

func (b *GofpdfBackend) Begin(tpl Template) (Session, error) {
	if tpl.PageSize == "" {
		return nil, fmt.Errorf("document: template page size required")
	}

	pdf := gofpdf.New(tpl.Orientation, "mm", tpl.PageSize, "")
	pdf.SetFont(tpl.Font, "", tpl.BaseFontSize)
	return &gofpdfSession{pdf: pdf, tpl: tpl}, nil
}

type gofpdfSession struct {
	pdf    *gofpdf.Fpdf
	tpl    Template
	closed bool
}

func (s *gofpdfSession) AddPage() {
	s.pdf.AddPage()
}

func (s *gofpdfSession) Heading(text string) {
	c := s.tpl.AccentColor
	s.pdf.SetTextColor(c.R, c.G, c.B)
	s.pdf.SetFont(s.tpl.Font, "B", s.tpl.BaseFontSize+4)
	s.pdf.CellFormat(0, 10, text, "", 1, "L", false, 0, "")
	s.pdf.SetTextColor(0, 0, 0)
	s.pdf.SetFont(s.tpl.Font, "", s.tpl.BaseFontSize)
}

func (s *gofpdfSession) Text(text string) {
	s.pdf.CellFormat(0, 6, text, "", 1, "L", false, 0, "")
}

func (s *gofpdfSession) Table(header []string, rows [][]string) {
	if len(header) == 0 {
		return
	}
	pageW, _ := s.pdf.GetPageSize()
	left, _, right, _ := s.pdf.GetMargins()
	colW := (pageW - left - right) / float64(len(header))

	s.pdf.SetFont(s.tpl.Font, "B", s.tpl.BaseFontSize)
	for _, h := range header {
		s.pdf.CellFormat(colW, 7, h, "1", 0, "L", false, 0, "")
	}
	s.pdf.Ln(-1)

	s.pdf.SetFont(s.tpl.Font, "", s.tpl.BaseFontSize)
	for _, row := range rows {
		for _, cell := range row {
			s.pdf.CellFormat(colW, 6, cell, "1", 0, "L", false, 0, "")
		}
		s.pdf.Ln(-1)
	}
}

func (s *gofpdfSession) Divider() {
	s.pdf.Ln(3)
}

func (s *gofpdfSession) Output() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *gofpdfSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pdf.Close()
	return nil
}
