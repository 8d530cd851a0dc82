package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Renderer turns report text into an A4 PDF. With a TTF font configured
// it renders full Unicode; without one it falls back to the built-in
// fonts and drops runes they cannot represent.
type Renderer struct {
	fontPath string
}

func NewRenderer(fontPath string) *Renderer {
	return &Renderer{fontPath: fontPath}
}

func (r *Renderer) Render(title, text, outPath string) error {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(20, 20, 20)
	doc.AddPage()

	family := "Helvetica"
	unicode := false

	if r.fontPath != "" {
		if _, err := os.Stat(r.fontPath); err == nil {
			family = "report"
			unicode = true
			doc.AddUTF8Font(family, "", r.fontPath)
		}
	}

	if !unicode {
		title = toLatin1(title)
		text = toLatin1(text)
	}

	doc.SetFont(family, "", 16)
	doc.MultiCell(0, 8, title, "", "C", false)
	doc.Ln(4)

	doc.SetFont(family, "", 11)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			doc.Ln(4)
			continue
		}
		doc.MultiCell(0, 6, line, "", "L", false)
	}

	if err := doc.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("Renderer.Render: %w", err)
	}

	return nil
}

// toLatin1 drops runes outside the built-in font's character set.
func toLatin1(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 256 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
