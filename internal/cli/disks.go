package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"diskimager/internal/disks"
)

func newDisksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List devices available as imaging sources",
		RunE:  runDisks,
	}
}

func runDisks(cmd *cobra.Command, _ []string) error {
	devices, err := disks.SystemLister{}.List(cmd.Context())
	if err != nil {
		return err
	}

	if outputJSON {
		data, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(devices) == 0 {
		cmd.Println("no devices found")
		return nil
	}
	for _, dev := range devices {
		size := "unknown size"
		if dev.SizeBytes > 0 {
			size = fmt.Sprintf("%.1f GiB", float64(dev.SizeBytes)/(1024*1024*1024))
		}
		cmd.Printf("%-30s %-12s %s\n", dev.DeviceID, size, dev.Model)
	}
	return nil
}
