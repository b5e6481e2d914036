// Package ingest turns a directory of 2D slice images into an assembled
// volume. Every file becomes one chunk carrying its own geometry; the
// image assembler decides the final size, spacing and orientation.
package ingest

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"voxelcore/internal/models"
	"voxelcore/pkg/config"
	"voxelcore/pkg/data"
	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

var (
	ErrNoSlices          = errors.New("no slice images found in input directory")
	ErrDimensionMismatch = errors.New("slices differ in size")
	ErrAssembly          = errors.New("slices could not be assembled into an image")
)

var sliceExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp"}

// Params holds the ingest parameters. Zero values are taken from the
// configuration passed to NewAssembler, except a gap flagged by HasSliceGap.
type Params struct {
	// InputDir is the directory containing the slice images.
	// Files are ordered by the number embedded in their names.
	InputDir string

	// SliceThickness is the physical thickness of one slice in mm.
	SliceThickness float64

	// SliceGap represents the physical distance between consecutive slices in mm.
	SliceGap float64

	// HasSliceGap marks SliceGap as set, so a gap of zero is kept.
	HasSliceGap bool

	// PixelSpacing is the in-plane voxel size in mm.
	PixelSpacing float64

	// NumCores limits how many files are decoded concurrently.
	NumCores int
}

// Assembler loads the slices of one directory and assembles them.
type Assembler struct {
	params Params
	opts   data.Options
	log    *zap.Logger

	slices []*models.SliceFile
	stats  models.SliceStats
}

// NewAssembler creates an assembler for params, falling back to cfg for
// unset parameters.
func NewAssembler(params *Params, cfg *config.Config, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := *params
	if p.SliceThickness <= 0 {
		p.SliceThickness = cfg.Ingest.SliceThickness
	}
	if p.SliceGap == 0 && !p.HasSliceGap {
		p.SliceGap = cfg.Ingest.SliceGap
	}
	if p.PixelSpacing <= 0 {
		p.PixelSpacing = cfg.Ingest.PixelSpacing
	}
	if p.NumCores <= 0 {
		p.NumCores = max(1, cfg.Ingest.NumCores)
	}
	return &Assembler{
		params: p,
		opts:   cfg.Options(),
		log:    log.With(zap.String("input", p.InputDir)),
	}
}

// Process runs the ingest pipeline: list, decode, build chunks, assemble.
func (a *Assembler) Process() (*data.Image, error) {
	if err := a.loadSlices(); err != nil {
		return nil, err
	}
	chunks, err := a.buildChunks()
	if err != nil {
		return nil, err
	}

	img := data.NewImage(a.opts, a.log)
	for _, c := range chunks {
		if !img.InsertChunk(c) {
			src, _ := property.Get[string](c.Props, data.PropSource)
			a.log.Warn("slice rejected by the image", zap.String("source", src))
		}
	}
	if !img.Reindex() {
		return nil, errors.Wrapf(ErrAssembly, "missing %s", img.Missing())
	}

	a.stats = a.computeStats(img)
	a.log.Info("assembled image",
		zap.Stringer("size", img.Size()),
		zap.Int("slices", a.stats.Slices),
		zap.Float64("min", a.stats.Min),
		zap.Float64("max", a.stats.Max),
		zap.Float64("mean", a.stats.Mean),
		zap.Float64("stddev", a.stats.StdDev),
	)
	return img, nil
}

// Stats returns the intensity summary of the last successful Process.
func (a *Assembler) Stats() models.SliceStats { return a.stats }

// Slices returns the files of the last Process in slice order.
func (a *Assembler) Slices() []*models.SliceFile { return a.slices }

// listSlices returns the image files of dir ordered by their number.
func listSlices(dir string) ([]*models.SliceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read input directory")
	}
	var out []*models.SliceFile
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(sliceExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		out = append(out, &models.SliceFile{
			Path:     filepath.Join(dir, e.Name()),
			Filename: e.Name(),
			Index:    extractNumber(e.Name()),
		})
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrNoSlices, "%s", dir)
	}
	slices.SortStableFunc(out, func(x, y *models.SliceFile) int {
		if x.Index != y.Index {
			return x.Index - y.Index
		}
		return strings.Compare(x.Filename, y.Filename)
	})
	return out, nil
}

// extractNumber extracts the digits of a filename as one number.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func (a *Assembler) loadSlices() error {
	files, err := listSlices(a.params.InputDir)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(a.params.NumCores)
	for _, f := range files {
		f := f
		g.Go(func() error {
			img, err := loadImage(f.Path)
			if err != nil {
				return errors.Wrapf(err, "failed to load image %s", f.Filename)
			}
			f.Image = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w, h := files[0].Bounds()
	for _, f := range files[1:] {
		if fw, fh := f.Bounds(); fw != w || fh != h {
			return errors.Wrapf(ErrDimensionMismatch, "%s is %dx%d, expected %dx%d", f.Filename, fw, fh, w, h)
		}
	}
	a.slices = files
	a.log.Info("loaded slices",
		zap.Int("count", len(files)),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Float64("sliceGap", a.params.SliceGap),
	)
	return nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// toGray16 copies the luminance of img into a row-major buffer.
func toGray16(img image.Image) *data.Buffer[uint16] {
	b := img.Bounds()
	buf := data.MakeBuffer[uint16](b.Dx() * b.Dy())
	out := buf.Data()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			out[(y-b.Min.Y)*b.Dx()+(x-b.Min.X)] = g.Y
		}
	}
	return buf
}

// buildChunks creates one 2D chunk per slice. Slices are stacked along z,
// spaced by thickness plus gap.
func (a *Assembler) buildChunks() ([]*data.Chunk, error) {
	p := a.params
	spacing := p.SliceThickness + p.SliceGap
	voxelSize := geometry.NewVec4(p.PixelSpacing, p.PixelSpacing, p.SliceThickness)

	chunks := make([]*data.Chunk, 0, len(a.slices))
	for i, s := range a.slices {
		w, h := s.Bounds()
		c, err := data.NewChunk(toGray16(s.Image), data.NewSize(w, h), a.opts.ChunkNeeded, a.log)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk for %s", s.Filename)
		}
		set := func(err error) error {
			return errors.Wrapf(err, "metadata for %s", s.Filename)
		}
		if err := property.Set(c.Props, data.PropIndexOrigin, geometry.NewVec4(0, 0, float64(i)*spacing)); err != nil {
			return nil, set(err)
		}
		if err := property.Set(c.Props, data.PropVoxelSize, voxelSize); err != nil {
			return nil, set(err)
		}
		if err := property.Set(c.Props, data.PropReadVec, geometry.NewVec4(1, 0, 0)); err != nil {
			return nil, set(err)
		}
		if err := property.Set(c.Props, data.PropPhaseVec, geometry.NewVec4(0, 1, 0)); err != nil {
			return nil, set(err)
		}
		if err := property.Set(c.Props, data.PropAcquisitionNumber, int64(s.Index)); err != nil {
			return nil, set(err)
		}
		if err := property.Set(c.Props, data.PropSource, s.Filename); err != nil {
			return nil, set(err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (a *Assembler) computeStats(img *data.Image) models.SliceStats {
	size := img.Size()
	st := models.SliceStats{
		Slices: img.ChunkCount(),
		Width:  size[0],
		Height: size[1],
	}
	st.Min, st.Max = img.MinMax()
	st.Mean, st.StdDev = img.Stats()
	return st
}
