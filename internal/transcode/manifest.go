package transcode

import (
	"fmt"
	"os"
	"strings"
)

// WriteManifest writes a concat demuxer list naming files in the given order.
// Names are written as-is, so relative names resolve against the manifest's
// directory.
func WriteManifest(path string, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("manifest needs at least one file")
	}

	var b strings.Builder
	for _, f := range files {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(f, "'", `'\''`))
		b.WriteString("'\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
