package data

// Well known property names.
const (
	PropIndexOrigin       = "indexOrigin"
	PropVoxelSize         = "voxelSize"
	PropVoxelGap          = "voxelGap"
	PropReadVec           = "readVec"
	PropPhaseVec          = "phaseVec"
	PropSliceVec          = "sliceVec"
	PropFoV               = "fov"
	PropAcquisitionNumber = "acquisitionNumber"
	PropAcquisitionTime   = "acquisitionTime"
	PropCoilChannelMask   = "coilChannelMask"
	PropSequenceNumber    = "sequenceNumber"
	PropSource            = "source"
)

// Options lists the property paths that drive validation and ordering.
type Options struct {
	// ChunkNeeded must be set on every chunk before it is inserted.
	ChunkNeeded []string
	// ImageNeeded must be set on the image after reindexing.
	ImageNeeded []string
	// EqualProps must not differ between chunks of one image.
	EqualProps []string
	// SecondarySort orders chunks sharing a position.
	SecondarySort []string
}

func DefaultOptions() Options {
	return Options{
		ChunkNeeded: []string{
			PropIndexOrigin, PropAcquisitionNumber, PropVoxelSize, PropReadVec, PropPhaseVec,
		},
		ImageNeeded: []string{
			PropIndexOrigin, PropReadVec, PropPhaseVec, PropSliceVec, PropVoxelSize,
		},
		EqualProps: []string{
			PropReadVec, PropPhaseVec, PropSliceVec, PropCoilChannelMask, PropSequenceNumber,
		},
		SecondarySort: []string{PropAcquisitionNumber, PropAcquisitionTime},
	}
}
