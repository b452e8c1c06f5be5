package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"miyu/internal/devices"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			selector := devices.NewSelector(newDevicesEnumerator(ctx), cfg.Capture.Device, ctx.sessionLogger())
			list, err := selector.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			selected, _ := selector.Selected()
			printDevices(out, list, selected.ID)
			if !watch {
				return nil
			}

			selector.OnChange(func(d devices.Device, ok bool) {
				if ok {
					fmt.Fprintf(out, "Selected: %s\n", d.Label())
				} else {
					fmt.Fprintln(out, "Selected: none")
				}
			})
			if err := selector.Watch(cmd.Context()); err != nil {
				return fmt.Errorf("watch devices: %w", err)
			}
			defer selector.Close()
			fmt.Fprintln(out, "Watching for device changes; Ctrl-C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and report selection changes")
	return cmd
}

func printDevices(out io.Writer, list []devices.Device, selected string) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No video capture devices found")
		return
	}
	rows := make([][]string, 0, len(list))
	for _, d := range list {
		mark := ""
		if d.ID == selected {
			mark = "*"
		}
		rows = append(rows, []string{mark, d.ID, d.Name, d.Driver, d.BusInfo, yesNo(d.Probed)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"", "Device", "Name", "Driver", "Bus", "Probed"},
		rows,
	))
}
