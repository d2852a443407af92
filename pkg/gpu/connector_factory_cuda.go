//go:build cuda
// +build cuda

package gpu

// NewConnector creates the best available device connector.
func NewConnector(poolSize int64) (Connector, error) {
	return NewCUDAConnector(poolSize)
}

// IsCUDAAvailable reports whether this binary was built with CUDA support.
func IsCUDAAvailable() bool {
	return true
}
