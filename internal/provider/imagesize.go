package provider

// ImageSize is one of the canonical aspect presets.
type ImageSize string

const (
	ImageSquare    ImageSize = "square"
	ImageLandscape ImageSize = "landscape"
	ImagePortrait  ImageSize = "portrait"
)

// Dimensions returns width and height in pixels. Unknown sizes are square.
func (s ImageSize) Dimensions() (width, height int) {
	switch s {
	case ImageLandscape:
		return 1280, 720
	case ImagePortrait:
		return 768, 1024
	default:
		return 1024, 1024
	}
}

// AspectRatio returns the ratio string used by predict-style image APIs.
func (s ImageSize) AspectRatio() string {
	switch s {
	case ImageLandscape:
		return "16:9"
	case ImagePortrait:
		return "3:4"
	default:
		return "1:1"
	}
}
