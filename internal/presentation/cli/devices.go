package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDevicesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Показать список доступных камер",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := app.Camera.ListDevices()
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				color.New(color.Faint).Fprintln(app.Out, "Устройства не найдены")
				return nil
			}

			fmt.Fprintln(app.Out, "Доступные устройства:")
			for i, device := range devices {
				fmt.Fprintf(app.Out, "[%d] %s %s (%s)\n", i, color.New(color.FgCyan).Sprint(device.ID), device.Label, device.Kind)
			}
			return nil
		},
	}
}
