package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// urlencodedCap bounds how much of an urlencoded body is read before the
// per-field limits even apply.
const urlencodedCap = 10 << 20

// ingestBody streams and parses the request body into ctx.Fields and
// ctx.Files. It is only invoked when a Content-Type header is present.
// Every limit violation, and a truncated part detected at any point, fails
// the request with 413.
func ingestBody(ctx *Context, config *ServerConfig) error {
	contentType := ctx.Request.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("server: unparseable content type %q: %w", contentType, err)
	}

	switch {
	case mediaType == "multipart/form-data":
		boundary, ok := params["boundary"]
		if !ok {
			return errors.New("server: multipart body without boundary")
		}
		return ingestMultipart(ctx, config.Limits, boundary, config.TempDir)
	case mediaType == "application/x-www-form-urlencoded":
		return ingestURLEncoded(ctx, config.Limits)
	default:
		// Other bodies are left on the request for handlers to stream.
		return nil
	}
}

func ingestMultipart(ctx *Context, limits *BodyLimits, boundary, tempRoot string) error {
	mr := multipart.NewReader(ctx.Request.Body, boundary)

	fields, files := 0, 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if isTruncation(err) {
				return &LimitError{Limit: "body size", Max: limits.MaxFileSize}
			}
			return fmt.Errorf("server: multipart parse: %w", err)
		}

		pairs := 0
		for _, values := range part.Header {
			pairs += len(values)
		}
		if pairs > limits.MaxHeaderPairs {
			part.Close()
			return &LimitError{Limit: "part header pairs", Max: int64(limits.MaxHeaderPairs)}
		}

		name := part.FormName()
		if len(name) > limits.MaxFieldNameLength {
			part.Close()
			return &LimitError{Limit: "field name length", Max: int64(limits.MaxFieldNameLength)}
		}

		if part.FileName() == "" {
			fields++
			if fields > limits.MaxFields {
				part.Close()
				return &LimitError{Limit: "field count", Max: int64(limits.MaxFields)}
			}
			value, err := readLimited(part, limits.MaxFieldSize, "field value size")
			part.Close()
			if err != nil {
				return err
			}
			addField(ctx.Fields, name, string(value))
			continue
		}

		files++
		if files > limits.MaxFiles {
			part.Close()
			return &LimitError{Limit: "file count", Max: int64(limits.MaxFiles)}
		}
		if len(part.FileName()) > limits.MaxFilenameLength {
			part.Close()
			return &LimitError{Limit: "filename length", Max: int64(limits.MaxFilenameLength)}
		}

		ref, err := storeFilePart(ctx, part, limits, tempRoot)
		part.Close()
		if err != nil {
			return err
		}
		addFile(ctx.Files, name, ref)
	}
}

// storeFilePart streams one file part into the request's temporary
// directory. The write completes, and the file is synced to its final size,
// before the parser moves on.
func storeFilePart(ctx *Context, part *multipart.Part, limits *BodyLimits, tempRoot string) (*FileRef, error) {
	if ctx.tempDir == "" {
		if tempRoot == "" {
			tempRoot = os.TempDir()
		}
		dir := filepath.Join(tempRoot, "liveline-"+uuid.NewString())
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("server: create upload dir: %w", err)
		}
		ctx.tempDir = dir
	}

	stored := filepath.Join(ctx.tempDir, sanitizeFilename(part.FileName()))
	f, err := os.Create(stored)
	if err != nil {
		return nil, fmt.Errorf("server: create upload file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(part, limits.MaxFileSize+1))
	if err != nil {
		f.Close()
		if isTruncation(err) {
			return nil, &LimitError{Limit: "file size", Max: limits.MaxFileSize}
		}
		return nil, fmt.Errorf("server: write upload: %w", err)
	}
	if written > limits.MaxFileSize {
		f.Close()
		return nil, &LimitError{Limit: "file size", Max: limits.MaxFileSize}
	}

	// A part that hit EOF mid-stream means the client truncated the body.
	// The copy above already returned, so probe the part for the trailing
	// error the parser saw.
	if _, err := part.Read(make([]byte, 1)); err != nil && err != io.EOF {
		f.Close()
		return nil, &LimitError{Limit: "body size", Max: limits.MaxFileSize}
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("server: finalize upload: %w", err)
	}

	mimeType := part.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &FileRef{
		FieldName:        part.FormName(),
		OriginalFilename: part.FileName(),
		MIMEType:         mimeType,
		StoredPath:       stored,
	}, nil
}

func ingestURLEncoded(ctx *Context, limits *BodyLimits) error {
	raw, err := readLimited(ctx.Request.Body, urlencodedCap, "body size")
	if err != nil {
		return err
	}

	fields := 0
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		name, err := url.QueryUnescape(kv[0])
		if err != nil {
			return fmt.Errorf("server: malformed form field %q: %w", kv[0], err)
		}
		value := ""
		if len(kv) == 2 {
			value, err = url.QueryUnescape(kv[1])
			if err != nil {
				return fmt.Errorf("server: malformed form value for %q: %w", name, err)
			}
		}

		if len(name) > limits.MaxFieldNameLength {
			return &LimitError{Limit: "field name length", Max: int64(limits.MaxFieldNameLength)}
		}
		if int64(len(value)) > limits.MaxFieldSize {
			return &LimitError{Limit: "field value size", Max: limits.MaxFieldSize}
		}
		fields++
		if fields > limits.MaxFields {
			return &LimitError{Limit: "field count", Max: int64(limits.MaxFields)}
		}
		addField(ctx.Fields, name, value)
	}
	return nil
}

// addField stores a body field. A "[]" suffix accumulates values into a
// slice under the de-suffixed key; a bare name holds a scalar,
// last-write-wins.
func addField(fields map[string]any, name, value string) {
	if key, ok := strings.CutSuffix(name, "[]"); ok {
		existing, _ := fields[key].([]string)
		fields[key] = append(existing, value)
		return
	}
	fields[name] = value
}

func addFile(files map[string]any, name string, ref *FileRef) {
	if key, ok := strings.CutSuffix(name, "[]"); ok {
		existing, _ := files[key].([]*FileRef)
		files[key] = append(existing, ref)
		return
	}
	files[name] = ref
}

func readLimited(r io.Reader, max int64, limit string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		if isTruncation(err) {
			return nil, &LimitError{Limit: limit, Max: max}
		}
		return nil, fmt.Errorf("server: read body: %w", err)
	}
	if int64(len(data)) > max {
		return nil, &LimitError{Limit: limit, Max: max}
	}
	return data, nil
}

func isTruncation(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, multipart.ErrMessageTooLarge)
}

// sanitizeFilename lowercases a client-supplied filename and strips
// everything that is not safe on a filesystem, including any path
// components.
func sanitizeFilename(name string) string {
	name = strings.ToLower(filepath.Base(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" || out == "-" {
		return "upload"
	}
	return out
}

// cleanupTempDir removes the request's upload directory. Called when the
// underlying response is finalized, success or failure.
func (c *Context) cleanupTempDir() {
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
		c.tempDir = ""
	}
}
