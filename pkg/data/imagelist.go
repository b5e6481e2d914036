package data

import (
	"go.uber.org/zap"
)

// ImageList is the result of sorting a heap of chunks into images.
type ImageList []*Image

// BuildImages distributes chunks over as many images as needed. Every pass
// builds one image from all chunks it accepts; the refused ones seed the
// next pass. Invalid chunks are dropped, as are images that cannot be
// indexed into a valid state.
func BuildImages(chunks []*Chunk, opts Options, log *zap.Logger) ImageList {
	if log == nil {
		log = zap.NewNop()
	}
	var out ImageList
	src := chunks
	for len(src) > 0 {
		img := NewImage(opts, log)
		var rest []*Chunk
		for _, c := range src {
			switch {
			case !c.IsValid():
				log.Error("ignoring invalid chunk", zap.Stringer("missing", c.Missing()))
			case !img.InsertChunk(c):
				rest = append(rest, c)
			}
		}
		if img.IsEmpty() {
			log.Error("no image accepts the remaining chunks", zap.Int("chunks", len(rest)))
			break
		}
		src = rest

		if !img.Reindex() {
			log.Error("cannot use image, indexing failed", zap.Stringer("missing", img.Missing()))
			continue
		}
		out = append(out, img)
	}
	return out
}
