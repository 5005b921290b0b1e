package export

import (
	"path/filepath"
	"strings"
	"time"

	"freight-insights/internal/domain"
)

// SanitizeFileName strips path separators and shell-hostile characters from
// a caller-supplied name so it is safe to place on disk. An empty result
// falls back to "export".
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "export"
	}
	return out
}

// artifactPath builds the on-disk location of an artifact:
// <root>/<yyyy-mm-dd>/<jobID>_<name>.<ext>. The job ID prefix keeps two jobs
// with the same requested name from colliding.
func artifactPath(root, jobID, name string, format domain.ExportFormat, now time.Time) string {
	base := SanitizeFileName(name)
	base = strings.TrimSuffix(base, "."+string(format))
	file := jobID + "_" + base + "." + string(format)
	return filepath.Join(root, now.UTC().Format("2006-01-02"), file)
}

// downloadName is the filename offered to the client, without the job ID
// prefix used on disk.
func downloadName(name string, format domain.ExportFormat) string {
	base := SanitizeFileName(name)
	base = strings.TrimSuffix(base, "."+string(format))
	return base + "." + string(format)
}
