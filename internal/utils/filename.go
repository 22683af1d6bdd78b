package utils

import (
	"path"
	"regexp"
	"strings"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename turns an arbitrary attachment filename into a safe
// storage-key component. Path separators and control characters never
// survive into object keys.
func SanitizeFilename(filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	filename = unsafeKeyChars.ReplaceAllString(filename, "_")
	if filename == "" || filename == "." || filename == ".." {
		return "document"
	}
	return filename
}

// FileExtension returns the lowercase extension without the leading dot
func FileExtension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return strings.TrimPrefix(ext, ".")
}

func GetFileExtensionFromContentType(contentType string) string {
	contentType = strings.ToLower(contentType)

	switch {
	case strings.Contains(contentType, "pdf"):
		return "pdf"
	case strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "tiff") || strings.Contains(contentType, "tif"):
		return "tiff"
	case strings.Contains(contentType, "word") || strings.Contains(contentType, "doc"):
		return "docx"
	case strings.Contains(contentType, "excel") || strings.Contains(contentType, "xls"):
		return "xlsx"
	case strings.Contains(contentType, "csv"):
		return "csv"
	case strings.Contains(contentType, "text/plain"):
		return "txt"
	default:
		return "bin"
	}
}
