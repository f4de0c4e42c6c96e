package contract

import (
	"context"
	"fmt"
	"log"

	"wellspring/api/internal/drive"
)

type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

// Blob is a rendered agreement. The bytes stay valid whether or not the
// upload succeeded, so callers can always attach them directly.
type Blob struct {
	Data     []byte
	Filename string
	MimeType string
}

// Handle is a durable reference to an uploaded agreement.
type Handle struct {
	FileID string
	Link   string
}

type Uploader interface {
	UploadFile(ctx context.Context, name string, data []byte, mimeType, folder string) (drive.UploadResult, error)
}

// Generator renders agreements and pushes them to the file store.
type Generator struct {
	uploader Uploader
	folder   string
}

func NewGenerator(uploader Uploader, folder string) *Generator {
	return &Generator{uploader: uploader, folder: folder}
}

// Render produces the agreement in the requested format.
func (g *Generator) Render(fields Fields, format Format) (*Blob, error) {
	html, err := RenderHTML(fields)
	if err != nil {
		return nil, err
	}
	name := Filename(fields.OrgPrefix, fields.StateAbbrev, fields.ChapterName, fields.AuthorName)

	switch format {
	case FormatPDF:
		data, err := renderPDF(html)
		if err != nil {
			return nil, err
		}
		return &Blob{Data: data, Filename: name[:len(name)-len(".docx")] + ".pdf", MimeType: pdfMime}, nil
	case FormatDOCX:
		data, err := renderDOCX(html)
		if err != nil {
			return nil, err
		}
		return &Blob{Data: data, Filename: name, MimeType: docxMime}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Upload pushes a rendered agreement to the file store. A nil handle means
// the upload failed; the blob itself is still usable.
func (g *Generator) Upload(ctx context.Context, blob *Blob) *Handle {
	if g.uploader == nil {
		return nil
	}
	result, err := g.uploader.UploadFile(ctx, blob.Filename, blob.Data, blob.MimeType, g.folder)
	if err != nil {
		log.Printf("contract: upload of %s failed: %v", blob.Filename, err)
		return nil
	}
	return &Handle{FileID: result.FileID, Link: result.Link}
}

// Generate renders and uploads in one step. The blob is always returned on a
// successful render; the handle is nil when the upload failed.
func (g *Generator) Generate(ctx context.Context, fields Fields, format Format) (*Blob, *Handle, error) {
	blob, err := g.Render(fields, format)
	if err != nil {
		return nil, nil, err
	}
	return blob, g.Upload(ctx, blob), nil
}
