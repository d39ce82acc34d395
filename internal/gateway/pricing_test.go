package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageCost(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size string
		want float64
	}{
		{"one large", 1, "1024x1024", 0.020},
		{"three medium", 3, "512x512", 0.054},
		{"two small", 2, "256x256", 0.032},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImageCost(tt.n, tt.size)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestImageCostUnknownSize(t *testing.T) {
	_, err := ImageCost(1, "800x600")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	assert.Equal(t, "Image size is incorrect", reqErr.Msg)
}

func TestImageCostNonPositiveCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := ImageCost(n, "512x512")
		assert.Error(t, err)
	}
}
