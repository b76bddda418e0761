package preflight

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// GiB is one gibibyte in bytes.
const GiB = 1 << 30

// HostInfo reports the resources the stack sizes itself against.
type HostInfo interface {
	TotalMemory(ctx context.Context) (uint64, error)
	DiskFree(ctx context.Context, path string) (uint64, error)
}

// SystemHost reads resources from the running machine.
type SystemHost struct{}

func (SystemHost) TotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory stats: %w", err)
	}
	return vm.Total, nil
}

func (SystemHost) DiskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("read disk usage of %s: %w", path, err)
	}
	return usage.Free, nil
}

// StaticHost returns fixed values; used for tests and dry runs.
type StaticHost struct {
	Memory uint64
	Free   uint64
}

func (h StaticHost) TotalMemory(context.Context) (uint64, error)      { return h.Memory, nil }
func (h StaticHost) DiskFree(context.Context, string) (uint64, error) { return h.Free, nil }

// HeapSize picks the Elasticsearch JVM heap for a host: half the memory,
// at most 31 GB so compressed object pointers stay enabled, at least 1 GB.
// The result is formatted for ES_JAVA_OPTS, e.g. "4g".
func HeapSize(totalMemory uint64) string {
	gb := totalMemory / GiB / 2
	if gb > 31 {
		gb = 31
	}
	if gb < 1 {
		gb = 1
	}
	return fmt.Sprintf("%dg", gb)
}
