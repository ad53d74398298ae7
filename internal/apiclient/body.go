package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"

	"github.com/waabox/stockdeck/internal/domain"
)

const jsonContentType = "application/json"

// Form is a multipart/form-data request body. Passing a *Form to Request switches
// the Content-Type from JSON to multipart.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

// NewForm creates an empty multipart form.
func NewForm() *Form {
	return &Form{}
}

// Field appends a plain text field.
func (f *Form) Field(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// File reads r fully and appends it as a file part. The content is buffered so the
// request can be replayed after a token refresh.
func (f *Form) File(field, filename string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return nil
}

// FileWithType is File with an explicit part Content-Type.
func (f *Form) FileWithType(field, filename, contentType string, r io.Reader) error {
	if err := f.File(field, filename, r); err != nil {
		return err
	}
	f.files[len(f.files)-1].contentType = contentType
	return nil
}

func (f *Form) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", fld.name, err)
		}
	}
	for _, file := range f.files {
		var part io.Writer
		var err error
		if file.contentType == "" {
			part, err = w.CreateFormFile(file.field, file.filename)
		} else {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
			h.Set("Content-Type", file.contentType)
			part, err = w.CreatePart(h)
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating form file %s: %w", file.field, err)
		}
		if _, err := part.Write(file.content); err != nil {
			return nil, "", fmt.Errorf("writing form file %s: %w", file.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// encodeBody materialises a request body once, returning its bytes and Content-Type.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, jsonContentType, nil
	case *Form:
		if b == nil {
			return nil, jsonContentType, nil
		}
		return b.encode()
	case []byte:
		return b, jsonContentType, nil
	case json.RawMessage:
		return b, jsonContentType, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		return data, jsonContentType, nil
	}
}

// errorDetail extracts a readable message from a backend error body. It understands
// {"detail": "..."} and field maps such as {"sku": ["This field is required."]}.
func errorDetail(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		if len(trimmed) > 200 || strings.HasPrefix(trimmed, "<") {
			return ""
		}
		return trimmed
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		return joinMessages(t, "; ")
	case map[string]any:
		if d, ok := t["detail"].(string); ok {
			return d
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			var msg string
			if list, ok := t[k].([]any); ok {
				msg = joinMessages(list, ", ")
			} else {
				msg = domain.FormatValue(t[k])
			}
			parts = append(parts, k+": "+msg)
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}

func joinMessages(list []any, sep string) string {
	msgs := make([]string, 0, len(list))
	for _, item := range list {
		msgs = append(msgs, domain.FormatValue(item))
	}
	return strings.Join(msgs, sep)
}
