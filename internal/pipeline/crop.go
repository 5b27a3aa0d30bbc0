package pipeline

import (
	"image"

	"golang.org/x/image/draw"
)

// largest picks the region covering the most frame pixels. Equal areas go to
// the higher confidence, then to the earlier region. A detector that sorts by
// confidence therefore gets its first face back when all faces are the same size.
func largest(bounds image.Rectangle, regions []Region) image.Rectangle {
	var (
		best     Region
		bestArea = -1
	)
	for _, r := range regions {
		clipped := r.Box.Canon().Intersect(bounds)
		area := clipped.Dx() * clipped.Dy()
		if area > bestArea || (area == bestArea && r.Confidence > best.Confidence) {
			best, bestArea = r, area
		}
	}
	return best.Box.Canon()
}

// cropFace clips box to the frame and copies it out. A positive size scales
// the crop to size x size. It returns nil when nothing of box is inside the frame.
func cropFace(frame image.Image, box image.Rectangle, size int) image.Image {
	r := box.Canon().Intersect(frame.Bounds())
	if r.Empty() {
		return nil
	}

	if size <= 0 {
		dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(dst, dst.Bounds(), frame, r.Min, draw.Src)
		return dst
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), frame, r, draw.Src, nil)
	return dst
}
