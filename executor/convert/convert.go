// Package convert lays cube features out as the model input tensor.
//
// Features arrive sticker-major (sticker*6 + color). The model wants one 3x3
// plane per (color, face) pair, so the input for one cube is [36, 3, 3] with
// channel = color*6 + face.
package convert

import (
	"sync"

	"github.com/brensch/cubezero/cube"
)

const (
	Side      = 3
	Channels  = cube.Faces * cube.Faces
	FloatSize = Channels * Side * Side
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// FeaturesToPlanes writes the plane layout of features into dst. Both must
// have length FloatSize.
func FeaturesToPlanes(dst, features []float32) {
	for s := 0; s < cube.Stickers; s++ {
		for c := 0; c < cube.Faces; c++ {
			dst[c*cube.Stickers+s] = features[s*cube.Faces+c]
		}
	}
}

// FeaturesToFloat32 is FeaturesToPlanes into a pooled buffer. The caller must
// return it with PutFloatBuffer.
func FeaturesToFloat32(features []float32) *[]float32 {
	ptr := GetFloatBuffer()
	FeaturesToPlanes(*ptr, features)
	return ptr
}

// AppendPlanes appends the plane layout of features to batch.
func AppendPlanes(batch, features []float32) []float32 {
	n := len(batch)
	batch = append(batch, make([]float32, FloatSize)...)
	FeaturesToPlanes(batch[n:], features)
	return batch
}
