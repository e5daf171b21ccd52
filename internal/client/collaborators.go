package client

// Thumbnail encoding defaults passed to a Compressor
const (
	ThumbnailMaxDimension = 300
	ThumbnailQuality      = 0.6
)

// Compressor downsizes an encoded image to a thumbnail payload
type Compressor interface {
	Compress(image string, maxDimension int, quality float64) (string, error)
}

// CompressorFunc adapts a function to Compressor
type CompressorFunc func(image string, maxDimension int, quality float64) (string, error)

func (f CompressorFunc) Compress(image string, maxDimension int, quality float64) (string, error) {
	return f(image, maxDimension, quality)
}

// Compositor renders the shareable image for a saved record
type Compositor interface {
	Compose(photo string, record CheckIn) (string, error)
}

// CompositorFunc adapts a function to Compositor
type CompositorFunc func(photo string, record CheckIn) (string, error)

func (f CompositorFunc) Compose(photo string, record CheckIn) (string, error) {
	return f(photo, record)
}

// MarkerSink receives the deduplicated map markers
type MarkerSink interface {
	SetMarkers(markers []Marker)
}
