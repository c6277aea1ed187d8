package main

import (
	"github.com/spf13/cobra"

	"myrcat/internal/app"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the publishing daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}
