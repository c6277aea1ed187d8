package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"myrcat/internal/analytics"
	"myrcat/internal/app"
)

func newReportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Generate an engagement report now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Reporter().Run(cmd.Context(), a.Registry().Names())
			if err != nil {
				return err
			}
			fmt.Print(analytics.Render(rep))
			return nil
		},
	}
}
