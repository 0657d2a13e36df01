package generation

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// DefaultPrefixField is the form field the render backend reads the
// filename prefix from
const DefaultPrefixField = "filename_prefix"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Build encodes req as the multipart payload sent to the render backend,
// with prefix injected under prefixField
func Build(req Request, prefixField, prefix string) (*bytes.Buffer, string, error) {
	if req == nil {
		return nil, "", fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	if prefixField == "" {
		prefixField = DefaultPrefixField
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	if err := w.WriteField(FieldMode, string(req.Mode())); err != nil {
		return nil, "", fmt.Errorf("failed to write mode: %w", err)
	}
	if err := req.Encode(w); err != nil {
		return nil, "", fmt.Errorf("failed to encode %s request: %w", req.Mode(), err)
	}
	if err := w.WriteField(prefixField, prefix); err != nil {
		return nil, "", fmt.Errorf("failed to write filename prefix: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	return body, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field string, f File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Filename)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part %s: %w", field, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("failed to write part %s: %w", field, err)
	}
	return nil
}
