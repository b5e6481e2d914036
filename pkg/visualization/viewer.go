package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"voxelcore/pkg/data"
	"voxelcore/pkg/numeric"
)

var (
	ErrInvalidAxis = errors.New("invalid axis (must be x, y, or z)")
	ErrOutOfBounds = errors.New("outside of the image")
)

// Viewer cuts 2D slices out of an assembled image. Intensities are mapped
// into 16 bit gray once, using the value range of the whole image, so all
// slices of one viewer share the same contrast.
type Viewer struct {
	img    *data.Image
	size   data.Size
	mapper *numeric.Mapper
	sc     numeric.Scaling
	log    *zap.Logger

	// volume index along the fourth dimension
	step int
}

// NewViewer creates a viewer for img. The image is indexed if necessary.
func NewViewer(img *data.Image, policy numeric.Policy, log *zap.Logger) (*Viewer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := img.EnsureIndexed(); err != nil {
		return nil, err
	}
	m := numeric.NewMapper(policy, log)
	lo, hi := img.MinMax()
	sc, err := numeric.ComputeScaling[float64, uint16](m, lo, hi)
	if err != nil {
		return nil, errors.Wrap(err, "intensity scaling")
	}
	log.Debug("viewer scaling",
		zap.Stringer("policy", policy),
		zap.Float64("scale", sc.Scale),
		zap.Float64("offset", sc.Offset))
	return &Viewer{img: img, size: img.Size(), mapper: m, sc: sc, log: log}, nil
}

// Scaling returns the intensity mapping applied to every slice.
func (v *Viewer) Scaling() numeric.Scaling { return v.sc }

// SetStep selects the volume of a time series the slices are taken from.
func (v *Viewer) SetStep(step int) error {
	if step < 0 || step >= v.size[3] {
		return errors.Wrapf(ErrOutOfBounds, "step %d of %d", step, v.size[3])
	}
	v.step = step
	return nil
}

// plane describes the two in-plane dimensions and the fixed one for an axis.
func plane(axis string) (u, w, fixed int, err error) {
	switch strings.ToLower(axis) {
	case "x":
		return 2, 1, 0, nil // YZ plane, z along the image width
	case "y":
		return 0, 2, 1, nil // XZ plane
	case "z":
		return 0, 1, 2, nil // XY plane
	}
	return 0, 0, 0, errors.Wrapf(ErrInvalidAxis, "%q", axis)
}

// Positions returns how many slices exist along axis.
func (v *Viewer) Positions(axis string) (int, error) {
	_, _, fixed, err := plane(axis)
	if err != nil {
		return 0, err
	}
	return v.size[fixed], nil
}

// ExtractSlice extracts a 2D slice from the image along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	u, w, fixed, err := plane(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= v.size[fixed] {
		return nil, errors.Wrapf(ErrOutOfBounds, "position %d along %s, size %d", position, axis, v.size[fixed])
	}

	width, height := v.size[u], v.size[w]
	values := make([]float64, 0, width*height)
	at := data.Coords{3: v.step}
	at[fixed] = position
	for y := 0; y < height; y++ {
		at[w] = y
		for x := 0; x < width; x++ {
			at[u] = x
			val, err := v.img.VoxelAt(at)
			if err != nil {
				return nil, errors.Wrapf(err, "voxel %v", at)
			}
			values = append(values, val)
		}
	}

	gray := make([]uint16, len(values))
	numeric.Convert(v.mapper, values, gray, v.sc)

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for i, g := range gray {
		img.SetGray16(i%width, i/width, color.Gray16{Y: g})
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion of raw voxel values, x fastest.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float64, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, errors.Wrap(ErrOutOfBounds, "start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, errors.New("size dimensions must be positive")
	}
	if startX+sizeX > v.size[0] || startY+sizeY > v.size[1] || startZ+sizeZ > v.size[2] {
		return nil, errors.Wrapf(ErrOutOfBounds, "region extends beyond %s", v.size)
	}

	region := make([]float64, 0, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				val, err := v.img.VoxelAt(data.Coords{startX + x, startY + y, startZ + z, v.step})
				if err != nil {
					return nil, err
				}
				region = append(region, val)
			}
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	n, err := v.Positions(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return errors.Wrapf(err, "save %s", filename)
		}
	}
	v.log.Info("saved slice sequence", zap.String("axis", axis), zap.Int("count", n), zap.String("dir", outputDir))
	return nil
}
