package models

import (
	"image"
)

// SliceFile represents a single 2D slice read from disk
type SliceFile struct {
	// Path is the full path of the file
	Path string

	// Filename is the base name, stored as the chunk's source
	Filename string

	// Index is the position of this slice in the sequence, taken from the
	// numeric part of the filename
	Index int

	// Image is the decoded slice, nil until loaded
	Image image.Image
}

// Bounds returns the width and height of a loaded slice.
func (s *SliceFile) Bounds() (width, height int) {
	if s.Image == nil {
		return 0, 0
	}
	b := s.Image.Bounds()
	return b.Dx(), b.Dy()
}

// SliceStats summarizes the intensities of an assembled stack
type SliceStats struct {
	// Slices is the number of slices that ended up in the image
	Slices int

	// Width and Height are the in-plane dimensions
	Width, Height int

	// Min, Max, Mean and StdDev describe the voxel intensities
	Min, Max     float64
	Mean, StdDev float64
}
