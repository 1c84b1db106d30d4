package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"carrier_sales/internal/app"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			application, err := app.New(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			return application.Run(ctx)
		},
	}
}
