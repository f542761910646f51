// Package media normalizes multimodal payloads: MIME detection, per-kind
// size limits, and materializing URL or base64 references into temp
// artifacts that tools consume by path.
package media

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Per-kind payload caps.
const (
	MaxImageBytes    = 6 * 1024 * 1024   // 6MB
	MaxAudioBytes    = 16 * 1024 * 1024  // 16MB
	MaxVideoBytes    = 16 * 1024 * 1024  // 16MB
	MaxDocumentBytes = 100 * 1024 * 1024 // 100MB
)

// Kind is the coarse media category used for size caps and tool dispatch.
type Kind string

const (
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindUnknown  Kind = "unknown"
)

var extensionToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",

	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",

	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",

	".pdf":  "application/pdf",
	".json": "application/json",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
}

var mimeToExtension = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"audio/wav":       ".wav",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// KindFromMIME maps a MIME type to its coarse kind.
func KindFromMIME(mime string) Kind {
	mime = normalizeMIME(mime)
	switch {
	case mime == "":
		return KindUnknown
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "application/"), strings.HasPrefix(mime, "text/"):
		return KindDocument
	default:
		return KindUnknown
	}
}

// MaxBytesForKind returns the payload cap for a kind.
func MaxBytesForKind(kind Kind) int64 {
	switch kind {
	case KindImage:
		return MaxImageBytes
	case KindAudio:
		return MaxAudioBytes
	case KindVideo:
		return MaxVideoBytes
	default:
		return MaxDocumentBytes
	}
}

// Extension returns the lowercased extension of a path or URL, stripping
// any query string or fragment first.
func Extension(path string) string {
	if path == "" {
		return ""
	}
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path = path[:idx]
	}
	return strings.ToLower(filepath.Ext(path))
}

// MIMEFromExtension maps a file extension (with or without the dot) to a
// MIME type, or "" when unknown.
func MIMEFromExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extensionToMIME[ext]
}

// ExtensionFromMIME returns the preferred extension for a MIME type, or "".
func ExtensionFromMIME(mime string) string {
	return mimeToExtension[normalizeMIME(mime)]
}

// normalizeMIME lowercases and strips parameters ("; charset=...").
func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// DetectMIME picks the best MIME type for a payload: content sniffing
// first, then extension mapping from the filename hint, then whatever the
// transport header claimed.
func DetectMIME(data []byte, filename, headerMIME string) string {
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); sniffed != "application/octet-stream" {
			return normalizeMIME(sniffed)
		}
	}
	if mime := MIMEFromExtension(Extension(filename)); mime != "" {
		return mime
	}
	return normalizeMIME(headerMIME)
}
