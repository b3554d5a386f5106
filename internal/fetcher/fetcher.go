package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote input.
type Fetcher interface {
	// Download fetches the URL and returns its body. The caller closes it.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// shapefileSidecars are fetched next to a remote .shp; the shapefile reader needs both.
var shapefileSidecars = []string{".shx", ".dbf"}

// Sources routes remote inputs to a Fetcher by URL scheme.
type Sources struct {
	fetchers map[string]Fetcher
}

// NewSources creates Sources serving http, https and ftp.
func NewSources(httpFetcher, ftpFetcher Fetcher) *Sources {
	s := &Sources{fetchers: make(map[string]Fetcher)}
	if httpFetcher != nil {
		s.Register("http", httpFetcher)
		s.Register("https", httpFetcher)
	}
	if ftpFetcher != nil {
		s.Register("ftp", ftpFetcher)
	}
	return s
}

// Register serves scheme with f.
func (s *Sources) Register(scheme string, f Fetcher) {
	s.fetchers[strings.ToLower(scheme)] = f
}

// IsRemote reports whether src is a URL rather than a local path.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	return err == nil && u.Host != "" && len(u.Scheme) > 1
}

// Localize returns a local path for src. Local paths are returned unchanged; URLs are
// downloaded into a fresh subdirectory of dir under their base name, so inputs sharing a
// name never overwrite each other. A remote .shp brings its .shx and .dbf.
func (s *Sources) Localize(ctx context.Context, src, dir string) (string, error) {
	if !IsRemote(src) {
		return src, nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse %s", src)
	}
	f, ok := s.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return "", eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("fetcher: %s has no file name", src)
	}
	sub, err := os.MkdirTemp(dir, "input-")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create input dir")
	}
	local := filepath.Join(sub, name)
	if _, err := DownloadToFile(ctx, f, src, local); err != nil {
		return "", err
	}

	ext := path.Ext(name)
	if strings.EqualFold(ext, ".shp") {
		for _, side := range shapefileSidecars {
			su := *u
			su.Path = strings.TrimSuffix(u.Path, ext) + side
			target := strings.TrimSuffix(local, ext) + side
			if _, err := DownloadToFile(ctx, f, su.String(), target); err != nil {
				return "", eris.Wrapf(err, "fetcher: shapefile %s", side)
			}
		}
	}

	zap.L().Info("fetched remote input", zap.String("url", src), zap.String("path", local))
	return local, nil
}

// DownloadToFile downloads rawURL with f into path and returns the bytes written.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
