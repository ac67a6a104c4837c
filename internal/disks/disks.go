// Package disks lists candidate source devices for imaging.
package disks

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Device is one attachable block device or partition.
type Device struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	SizeBytes   uint64 `json:"size_bytes"`
	Model       string `json:"model"`
}

// Lister enumerates devices. The engine only ever consumes Device records;
// front ends may substitute their own implementation.
type Lister interface {
	List(ctx context.Context) ([]Device, error)
}

// SystemLister lists devices via gopsutil partition enumeration.
type SystemLister struct{}

// List returns the partitions visible to the current user. Sizes come from
// usage statistics where the mountpoint is readable; unreadable entries are
// kept with size zero rather than dropped, since imaging a device does not
// require mounting it.
func (SystemLister) List(ctx context.Context) ([]Device, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}

	devices := make([]Device, 0, len(partitions))
	seen := map[string]bool{}
	for _, part := range partitions {
		if seen[part.Device] {
			continue
		}
		seen[part.Device] = true

		dev := Device{
			DeviceID:    devicePath(part.Device),
			DisplayName: part.Device,
			Model:       part.Fstype,
		}
		if usage, err := disk.UsageWithContext(ctx, part.Mountpoint); err == nil {
			dev.SizeBytes = usage.Total
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// devicePath normalizes a partition device into the path handed to the
// imaging tool as a source.
func devicePath(device string) string {
	if runtime.GOOS == "windows" && !strings.HasPrefix(device, `\\.\`) {
		return `\\.\` + strings.TrimSuffix(device, `\`)
	}
	return device
}

var _ Lister = SystemLister{}
