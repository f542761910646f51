package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Source records where an artifact's bytes came from.
type Source string

const (
	SourceURL    Source = "url"
	SourceBase64 Source = "base64"
	SourceFile   Source = "file"
)

// Artifact is a multimodal payload written to a temp file so a tool can
// consume it by path. The caller owns the file and must defer Cleanup.
type Artifact struct {
	Path      string
	MediaType string
	Kind      Kind
	Size      int64
	Source    Source
}

// Cleanup removes the artifact's backing file. Safe to call repeatedly.
func (a *Artifact) Cleanup() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Materializer turns payload references (URL, data URI, raw base64, or a
// local path) into temp artifacts with sniffed MIME types and per-kind
// size caps enforced.
type Materializer struct {
	client *http.Client
	dir    string
	logger *slog.Logger
}

// NewMaterializer creates a materializer writing artifacts to the system
// temp directory.
func NewMaterializer(logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "media"),
	}
}

// SetDir overrides the directory artifacts are written to.
func (m *Materializer) SetDir(dir string) {
	m.dir = dir
}

// Materialize fetches or decodes ref into a temp file. hint, when set,
// names the original file for extension-based MIME fallback.
func (m *Materializer) Materialize(ctx context.Context, ref, hint string) (*Artifact, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("media reference is empty")
	}

	var (
		data       []byte
		headerMIME string
		source     Source
		err        error
	)
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		source = SourceURL
		data, headerMIME, err = m.download(ctx, ref)
		if hint == "" {
			hint = ref
		}
	case strings.HasPrefix(ref, "data:"):
		source = SourceBase64
		headerMIME, data, err = parseDataURI(ref)
	default:
		if info, statErr := os.Stat(ref); statErr == nil && info.Mode().IsRegular() {
			source = SourceFile
			if info.Size() > MaxDocumentBytes {
				return nil, fmt.Errorf("media too large: %d bytes (max %d)", info.Size(), int64(MaxDocumentBytes))
			}
			data, err = os.ReadFile(ref)
			if hint == "" {
				hint = ref
			}
		} else {
			source = SourceBase64
			data, err = base64.StdEncoding.DecodeString(ref)
			if err != nil {
				return nil, fmt.Errorf("media reference is neither a URL, a readable file, nor base64: %w", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media payload is empty")
	}

	mediaType := DetectMIME(data, hint, headerMIME)
	kind := KindFromMIME(mediaType)
	if limit := MaxBytesForKind(kind); int64(len(data)) > limit {
		return nil, fmt.Errorf("%s payload is %d bytes (max %d)", kind, len(data), limit)
	}

	f, err := os.CreateTemp(m.dir, "rapport-artifact-*"+ExtensionFromMIME(mediaType))
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	artifact := &Artifact{
		Path:      f.Name(),
		MediaType: mediaType,
		Kind:      kind,
		Size:      int64(len(data)),
		Source:    source,
	}
	m.logger.Debug("materialized artifact",
		"source", source,
		"media_type", mediaType,
		"bytes", artifact.Size)
	return artifact, nil
}

func (m *Materializer) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}

	// The header kind only bounds the read; the sniffed kind re-checks
	// the exact cap after download.
	headerMIME := resp.Header.Get("Content-Type")
	limit := int64(MaxDocumentBytes)
	if kind := KindFromMIME(headerMIME); kind != KindUnknown {
		limit = MaxBytesForKind(kind)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("media too large: exceeds %d bytes", limit)
	}
	return data, headerMIME, nil
}

// parseDataURI splits a data: URI into its MIME type and decoded payload.
func parseDataURI(uri string) (string, []byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URI: missing comma")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode data URI: %w", err)
		}
		return strings.TrimSuffix(meta, ";base64"), data, nil
	}
	unescaped, err := url.QueryUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("unescape data URI: %w", err)
	}
	return meta, []byte(unescaped), nil
}
