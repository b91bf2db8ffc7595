// Package export renders a campaign as a downloadable PDF.
package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"novel_ai/gemini"
	"novel_ai/session"
	"novel_ai/story"
	"novel_ai/tasks"
)

// Page is one scene of the book.
type Page struct {
	Title  string
	Action string
	Story  string
	// Image is a data URL; empty or unsupported images are left out.
	Image string
}

// Book is what WritePDF prints.
type Book struct {
	Title string
	Genre string
	Pages []Page
}

// ImageSource resolves the image shown with a scene.
type ImageSource interface {
	DisplayKey(scene *story.Scene) string
	Image(key string) (string, bool)
}

// FromView builds a Book from every scene of v, with each scene's displayed image.
func FromView(v session.View, images ImageSource) Book {
	book := Book{Title: "Interactive Story", Genre: v.Genre}
	if len(v.Scenes) > 0 && v.Scenes[0].Title != "" {
		book.Title = v.Scenes[0].Title
	}
	for _, sc := range v.Scenes {
		page := Page{Title: sc.Title, Action: sc.UserInput, Story: sc.Story}
		if key := images.DisplayKey(sc); key != "" {
			page.Image, _ = images.Image(key)
		}
		book.Pages = append(book.Pages, page)
	}
	return book
}

var imageTypes = map[string]string{
	"image/png":  "PNG",
	"image/jpeg": "JPG",
	"image/jpg":  "JPG",
}

// WritePDF writes book to w.
func WritePDF(w io.Writer, book Book) error {
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	text := func(s string) string {
		out, err := enc.String(s)
		if err != nil {
			return s
		}
		return out
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(book.Title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 22)
	pdf.MultiCell(0, 12, text(book.Title), "", "C", false)
	if book.Genre != "" {
		pdf.SetFont("Arial", "I", 12)
		pdf.MultiCell(0, 8, text(book.Genre), "", "C", false)
	}

	for i, page := range book.Pages {
		pdf.Ln(8)
		pdf.SetFont("Arial", "B", 15)
		title := page.Title
		if title == "" {
			title = fmt.Sprintf("Scene %d", i+1)
		}
		pdf.MultiCell(0, 9, text(title), "", "L", false)

		if action := strings.TrimSpace(page.Action); action != "" {
			pdf.SetFont("Arial", "I", 11)
			pdf.MultiCell(0, 6, text("> "+action), "", "L", false)
		}
		addImage(pdf, fmt.Sprintf("scene-%d", i), page.Image)

		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 6, text(page.Story), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// addImage places a cached image under the scene heading. Placeholders and images gofpdf
// cannot read are skipped without failing the document.
func addImage(pdf *gofpdf.Fpdf, name, dataURL string) {
	if dataURL == "" || dataURL == tasks.Placeholder {
		return
	}
	mimeType, data, err := gemini.SplitDataURL(dataURL)
	if err != nil {
		return
	}
	imageType, ok := imageTypes[mimeType]
	if !ok {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(raw))
	if pdf.Err() || info == nil || info.Width() == 0 {
		pdf.ClearError()
		return
	}
	width := 120.0
	height := width * info.Height() / info.Width()
	pageW, _ := pdf.GetPageSize()
	pdf.Ln(3)
	pdf.ImageOptions(name, (pageW-width)/2, pdf.GetY(), width, height, true, opts, 0, "")
	pdf.Ln(3)
}
