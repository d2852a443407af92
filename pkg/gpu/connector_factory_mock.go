//go:build !cuda
// +build !cuda

package gpu

// NewConnector creates the best available device connector.
// Without the cuda build tag this is always the mock.
func NewConnector(poolSize int64) (Connector, error) {
	return NewMockConnector(), nil
}

// IsCUDAAvailable reports whether this binary was built with CUDA support.
func IsCUDAAvailable() bool {
	return false
}

// DeviceMemInfo returns GPU memory info. Zero without CUDA.
func DeviceMemInfo(deviceID int) (totalMem, freeMem int64, err error) {
	return 0, 0, nil
}
