package model

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

type DeviceKind string

const CPU DeviceKind = "cpu"

// Device identifies the compute target sessions run on. Only the CPU
// execution provider is used.
type Device struct {
	Kind          DeviceKind `json:"kind"`
	Vendor        string     `json:"vendor"`
	Brand         string     `json:"brand"`
	PhysicalCores int        `json:"physical_cores"`
	LogicalCores  int        `json:"logical_cores"`
	SIMD          []string   `json:"simd,omitempty"`
}

var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE42, "sse4.2"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "asimd"},
}

// CPUDevice describes the host processor.
func CPUDevice() Device {
	d := Device{
		Kind:          CPU,
		Vendor:        cpuid.CPU.VendorString,
		Brand:         strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			d.SIMD = append(d.SIMD, f.name)
		}
	}
	return d
}

func (d Device) String() string {
	brand := d.Brand
	if brand == "" {
		brand = "unknown"
	}
	return fmt.Sprintf("%s (%s, %d cores/%d threads)", d.Kind, brand, d.PhysicalCores, d.LogicalCores)
}
