package web

// intake.go turns multipart uploads into staging.RawFile values.
//
// The browser's declared Content-Type is trusted when present, after
// normalization (parameters stripped, lowercased). When it is missing or the
// generic application/octet-stream, the type is sniffed from the content.

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// readFiles parses the multipart body and returns the files under field, in
// the order they were sent.
func (s *Server) readFiles(w http.ResponseWriter, r *http.Request, field string) ([]staging.RawFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Staging.MaxRequestSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errRequestTooBig, tooBig.Limit)
		}
		// Some multipart read paths flatten the error to text.
		if strings.Contains(err.Error(), "request body too large") {
			return nil, fmt.Errorf("%w: limit is %d bytes", errRequestTooBig, s.cfg.Staging.MaxRequestSize)
		}
		return nil, fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, errNoFile
	}

	files := make([]staging.RawFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// readFile is readFiles for a single-file field. It returns nil when no file
// was sent.
func (s *Server) readFile(w http.ResponseWriter, r *http.Request, field string) (*staging.RawFile, error) {
	files, err := s.readFiles(w, r, field)
	if errors.Is(err, errNoFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &files[0], nil
}

func readPart(fh *multipart.FileHeader) (staging.RawFile, error) {
	f, err := fh.Open()
	if err != nil {
		return staging.RawFile{}, fmt.Errorf("open part %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return staging.RawFile{}, fmt.Errorf("read part %q: %w", fh.Filename, err)
	}

	return staging.RawFile{
		Name:     filepath.Base(fh.Filename),
		Size:     int64(len(data)),
		MimeType: detectType(fh.Header.Get("Content-Type"), data),
		Content:  data,
	}, nil
}

// detectType returns the normalized declared type, or the sniffed type when
// nothing specific was declared.
func detectType(declared string, data []byte) string {
	mt := normalizeType(declared)
	if mt == "" || mt == "application/octet-stream" {
		mt = normalizeType(mimetype.Detect(data).String())
	}
	return mt
}

// normalizeType lowercases a media type and drops its parameters,
// e.g. "Text/Plain; charset=utf-8" becomes "text/plain".
func normalizeType(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
