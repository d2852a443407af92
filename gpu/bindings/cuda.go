//go:build cuda
// +build cuda

// Package bindings provides CGO bindings for CUDA memory operations.
package bindings

/*
#cgo linux,amd64 LDFLAGS: -L/usr/local/cuda/lib64 -lcudart
#cgo linux,arm64 LDFLAGS: -L/usr/lib/aarch64-linux-gnu -lcudart

#include <cuda_runtime.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// CUDAError wraps CUDA error codes.
type CUDAError int

func (e CUDAError) Error() string {
	return fmt.Sprintf("CUDA error: %d", int(e))
}

// Stream represents a CUDA stream handle.
type Stream C.cudaStream_t

// AllocPinned allocates pinned (page-locked) host memory.
func AllocPinned(size int) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	ret := C.cudaHostAlloc(&ptr, C.size_t(size), C.cudaHostAllocDefault)
	if ret != C.cudaSuccess {
		return nil, CUDAError(ret)
	}
	return ptr, nil
}

// FreePinned frees pinned host memory.
func FreePinned(ptr unsafe.Pointer) error {
	if ret := C.cudaFreeHost(ptr); ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// AllocDevice allocates GPU device memory.
func AllocDevice(size int) (unsafe.Pointer, error) {
	var ptr unsafe.Pointer
	ret := C.cudaMalloc(&ptr, C.size_t(size))
	if ret != C.cudaSuccess {
		return nil, CUDAError(ret)
	}
	return ptr, nil
}

// FreeDevice frees GPU device memory.
func FreeDevice(ptr unsafe.Pointer) error {
	if ret := C.cudaFree(ptr); ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// CreateStream creates a new CUDA stream.
func CreateStream() (Stream, error) {
	var stream C.cudaStream_t
	ret := C.cudaStreamCreate(&stream)
	if ret != C.cudaSuccess {
		return Stream(nil), CUDAError(ret)
	}
	return Stream(stream), nil
}

// DestroyStream destroys a CUDA stream.
func DestroyStream(stream Stream) error {
	if ret := C.cudaStreamDestroy(C.cudaStream_t(stream)); ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// SyncStream synchronizes a CUDA stream (blocks until complete).
func SyncStream(stream Stream) error {
	if ret := C.cudaStreamSynchronize(C.cudaStream_t(stream)); ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// CopyToHost copies size bytes from device to pinned host memory.
func CopyToHost(dst, src unsafe.Pointer, size int, stream Stream) error {
	ret := C.cudaMemcpyAsync(dst, src, C.size_t(size),
		C.cudaMemcpyDeviceToHost, C.cudaStream_t(stream))
	if ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// CopyToDevice copies size bytes from pinned host to device memory.
func CopyToDevice(dst, src unsafe.Pointer, size int, stream Stream) error {
	ret := C.cudaMemcpyAsync(dst, src, C.size_t(size),
		C.cudaMemcpyHostToDevice, C.cudaStream_t(stream))
	if ret != C.cudaSuccess {
		return CUDAError(ret)
	}
	return nil
}

// GetDeviceMemInfo returns total and free GPU memory.
func GetDeviceMemInfo(deviceID int) (totalMem, freeMem int64, err error) {
	if ret := C.cudaSetDevice(C.int(deviceID)); ret != C.cudaSuccess {
		return 0, 0, CUDAError(ret)
	}

	var free, total C.size_t
	if ret := C.cudaMemGetInfo(&free, &total); ret != C.cudaSuccess {
		return 0, 0, CUDAError(ret)
	}
	return int64(total), int64(free), nil
}
