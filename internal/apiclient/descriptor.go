package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"slices"
	"strings"
)

// ResponseType selects how a successful response body is handed back.
type ResponseType string

const (
	ResponseJSON   ResponseType = "json"
	ResponseBinary ResponseType = "binary"
)

var (
	// ErrInvalidMethod is returned before any I/O for unsupported HTTP methods.
	ErrInvalidMethod = errors.New("apiclient: unsupported HTTP method")
	// ErrMultipartBody is returned when Multipart is set without a *Form body.
	ErrMultipartBody = errors.New("apiclient: multipart request requires a *Form body")
)

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodHead,
}

// Descriptor describes one API call.
type Descriptor struct {
	// Endpoint is a logical endpoint name or a raw relative path.
	Endpoint string
	Extra    string
	Param    string
	// Method defaults to GET.
	Method       string
	RequiresAuth bool
	// Body is JSON-encoded unless it is a *Form. Ignored for GET and HEAD.
	Body any
	// Query values that are nil or nil pointers are omitted.
	Query     map[string]any
	Multipart bool

	RawResponse        bool
	ResponseType       ResponseType
	ReturnErrorPayload bool
}

func (d Descriptor) method() (string, error) {
	if d.Method == "" {
		return http.MethodGet, nil
	}
	m := strings.ToUpper(d.Method)
	if !slices.Contains(allowedMethods, m) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, d.Method)
	}
	return m, nil
}

func (d Descriptor) wantsRaw() bool {
	return d.RawResponse || d.ResponseType == ResponseBinary
}

// Form is a multipart/form-data body.
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

// FormFile is one file part of a Form.
type FormFile struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

func (f *Form) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, k := range slices.Sorted(maps.Keys(f.Fields)) {
		if err := w.WriteField(k, f.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	for _, file := range f.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.FileName))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create form file %s: %w", file.Field, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write form file %s: %w", file.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// encodeBody returns the request body bytes and content type for d.
func encodeBody(d Descriptor, method string) ([]byte, string, error) {
	contentType := "application/json"
	if d.Multipart {
		contentType = "multipart/form-data"
	}
	if method == http.MethodGet || method == http.MethodHead || d.Body == nil {
		return nil, contentType, nil
	}

	if form, ok := d.Body.(*Form); ok {
		return form.encode()
	}
	if d.Multipart {
		return nil, "", ErrMultipartBody
	}

	data, err := json.Marshal(d.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode request body: %w", err)
	}
	return data, contentType, nil
}

// buildQuery encodes q in sorted key order, dropping nil values. Spaces encode as %20
// and non-scalar values are sent as JSON.
func buildQuery(q map[string]any) string {
	parts := make([]string, 0, len(q))
	for _, k := range slices.Sorted(maps.Keys(q)) {
		v, ok := queryValue(q[k])
		if !ok {
			continue
		}
		parts = append(parts, escape(k)+"="+escape(v))
	}
	return strings.Join(parts, "&")
}

func queryValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if b, err := json.Marshal(rv.Interface()); err == nil {
			return string(b), true
		}
	}
	return fmt.Sprint(rv.Interface()), true
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
