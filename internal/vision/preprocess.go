package vision

import (
	"image"

	"golang.org/x/image/draw"
)

func preprocessForDetection(img image.Image, size int) []float32 {
	return toCHW(img, size, size, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
}

func preprocessForEmbedding(img image.Image) []float32 {
	return toCHW(img, embedInputSize, embedInputSize, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// toCHW scales img to w x h and lays it out as normalized planar RGB:
//
//	value = (pixel - mean) / std
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := dst.PixOffset(x, y)
			idx := y*w + x
			data[idx] = (float32(dst.Pix[off]) - mean[0]) / std[0]
			data[plane+idx] = (float32(dst.Pix[off+1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(dst.Pix[off+2]) - mean[2]) / std[2]
		}
	}
	return data
}

// cropFace cuts the box out of img with 10% padding on each side. It returns
// nil for empty boxes.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}
