package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP unpacks a provider archive into destDir and returns the
// extracted file paths. Directory entries and packaging junk such as
// __MACOSX sidecars are skipped.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, entry := range r.File {
		if skipZIPEntry(entry) {
			continue
		}
		path, err := writeZIPEntry(entry, destDir)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}
	return extracted, nil
}

// skipZIPEntry filters directories and the metadata files macOS and
// Windows zip tools slip into archives.
func skipZIPEntry(entry *zip.File) bool {
	if entry.FileInfo().IsDir() {
		return true
	}
	name := filepath.ToSlash(entry.Name)
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return strings.HasPrefix(base, ".")
}

// writeZIPEntry extracts one archive member, refusing paths that would
// escape destDir.
func writeZIPEntry(entry *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, entry.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("fetch: archive member %q escapes extraction dir", entry.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrapf(err, "fetch: create dir for %s", entry.Name)
	}

	rc, err := entry.Open()
	if err != nil {
		return "", eris.Wrapf(err, "fetch: open archive member %s", entry.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: create %s", destPath)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "fetch: write %s", destPath)
	}
	return destPath, nil
}
