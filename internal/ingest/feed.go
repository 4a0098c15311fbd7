package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rangeatlas/occurrence-cli/internal/fetcher"
	"github.com/rangeatlas/occurrence-cli/internal/geo"
	"github.com/rangeatlas/occurrence-cli/internal/mapping"
)

// Synthetic columns appended to every shapefile row, holding the shape's
// representative coordinate. Mappings reference them when the DBF table
// carries no explicit longitude/latitude fields.
const (
	ColShapeLongitude = "_shape_longitude"
	ColShapeLatitude  = "_shape_latitude"
)

// Feed acquires provider files and iterates their rows. Remote locations
// (http, https, ftp) are downloaded to a temp dir first; zip archives are
// extracted and every contained data file is processed.
type Feed struct {
	http    fetcher.Fetcher
	ftp     fetcher.Fetcher
	tempDir string
	log     *zap.Logger
}

func NewFeed(httpF, ftpF fetcher.Fetcher, tempDir string) *Feed {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Feed{
		http:    httpF,
		ftp:     ftpF,
		tempDir: tempDir,
		log:     zap.L().With(zap.String("component", "feed")),
	}
}

// Acquire resolves locations into local data file paths, downloading
// remote files concurrently and expanding zip archives.
func (f *Feed) Acquire(ctx context.Context, locations []string) ([]string, error) {
	local := make([]string, len(locations))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, loc := range locations {
		g.Go(func() error {
			path, err := f.localize(ctx, loc)
			if err != nil {
				return err
			}
			local[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, path := range local {
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			files, err := fetcher.ExtractZIP(path, f.tempDir)
			if err != nil {
				return nil, eris.Wrapf(err, "feed: extract %s", path)
			}
			for _, extracted := range files {
				if isDataFile(extracted) {
					out = append(out, extracted)
				}
			}
			continue
		}
		out = append(out, path)
	}
	if len(out) == 0 {
		return nil, eris.New("feed: no data files found")
	}
	return out, nil
}

func (f *Feed) localize(ctx context.Context, loc string) (string, error) {
	switch {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		dest := filepath.Join(f.tempDir, filepath.Base(loc))
		f.log.Info("downloading", zap.String("url", loc))
		if _, err := f.http.DownloadToFile(ctx, loc, dest); err != nil {
			return "", eris.Wrapf(err, "feed: download %s", loc)
		}
		return dest, nil
	case strings.HasPrefix(loc, "ftp://"):
		dest := filepath.Join(f.tempDir, filepath.Base(loc))
		f.log.Info("downloading", zap.String("url", loc))
		if _, err := f.ftp.DownloadToFile(ctx, loc, dest); err != nil {
			return "", eris.Wrapf(err, "feed: download %s", loc)
		}
		return dest, nil
	default:
		if _, err := os.Stat(loc); err != nil {
			return "", eris.Wrapf(err, "feed: stat %s", loc)
		}
		return loc, nil
	}
}

func isDataFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv", ".shp":
		return true
	}
	return false
}

// Rows iterates the data rows of one file, invoking fn with a reusable
// mapped row, the shape geometry as EWKB (nil for tabular files), and the
// 1-based row number.
func (f *Feed) Rows(ctx context.Context, path string, fields mapping.Fields, fn func(row *mapping.Row, shape []byte, n int) error) error {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return f.shapeRows(ctx, path, fields, fn)
	}
	return f.csvRows(ctx, path, fields, fn)
}

func (f *Feed) csvRows(ctx context.Context, path string, fields mapping.Fields, fn func(*mapping.Row, []byte, int) error) error {
	file, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "feed: open %s", path)
	}
	defer file.Close()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{
		Delimiter: delimiterFor(path),
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var row *mapping.Row
	n := 0
	for cells := range rowCh {
		if row == nil {
			row = mapping.NewRow(fields, <-headerCh)
		}
		n++
		row.Reset(cells)
		if err := fn(row, nil, n); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil {
		return err
	}
	return nil
}

func (f *Feed) shapeRows(ctx context.Context, path string, fields mapping.Fields, fn func(*mapping.Row, []byte, int) error) error {
	reader, err := shp.Open(path)
	if err != nil {
		return eris.Wrapf(err, "feed: open shapefile %s", path)
	}
	defer reader.Close()

	dbfFields := reader.Fields()
	header := make([]string, 0, len(dbfFields)+2)
	for _, fld := range dbfFields {
		header = append(header, fld.String())
	}
	header = append(header, ColShapeLongitude, ColShapeLatitude)

	row := mapping.NewRow(fields, header)

	cells := make([]string, len(header))
	n := 0
	for reader.Next() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "feed: shapefile read cancelled")
		}
		idx, shape := reader.Shape()
		for i := range dbfFields {
			cells[i] = reader.ReadAttribute(idx, i)
		}

		wkb, err := geo.EncodeShapeWKB(shape)
		if err != nil {
			return eris.Wrapf(err, "feed: shape %d", idx)
		}
		// Unsupported shape types leave the synthetic columns empty and the
		// row falls out as a no-coordinates reject.
		cells[len(cells)-2] = ""
		cells[len(cells)-1] = ""
		if wkb != nil {
			lon, lat, err := geo.Centroid(wkb)
			if err != nil {
				return eris.Wrapf(err, "feed: shape %d centroid", idx)
			}
			cells[len(cells)-2] = strconv.FormatFloat(lon, 'f', -1, 64)
			cells[len(cells)-1] = strconv.FormatFloat(lat, 'f', -1, 64)
		}

		n++
		row.Reset(cells)
		if err := fn(row, wkb, n); err != nil {
			return err
		}
	}
	return eris.Wrapf(reader.Err(), "feed: read shapefile %s", path)
}

func delimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}
