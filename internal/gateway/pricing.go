package gateway

// imagePriceTable maps a requested image size to its per-image cost. The
// table is fixed: an unrecognized size is an input error, raised before any
// upstream call is made.
var imagePriceTable = map[string]float64{
	"1024x1024": 0.020,
	"512x512":   0.018,
	"256x256":   0.016,
}

// ImageCost computes the total cost of generating n images at the given
// size.
func ImageCost(n int, size string) (float64, error) {
	perImage, ok := imagePriceTable[size]
	if !ok {
		return 0, errInvalid("Image size is incorrect")
	}
	if n <= 0 {
		return 0, errInvalid("Image count must be positive")
	}
	return float64(n) * perImage, nil
}
