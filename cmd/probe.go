package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/server"
)

func newProbeCmd() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe worker health and print region status as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			router, err := server.BuildRouter(e.cfg, nil, nil, e.logger)
			if err != nil {
				return err
			}
			regions := router.Registry().Regions()
			if region != "" {
				if !router.Registry().Has(region) {
					return fmt.Errorf("%w: %q", proxy.ErrUnknownRegion, region)
				}
				regions = []string{region}
			}

			statuses := make([]proxy.RegionStatus, len(regions))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, name := range regions {
				g.Go(func() error {
					status, err := router.Status(ctx, name)
					statuses[i] = status
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			enc := json.NewEncoder(e.out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"statuses": statuses})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "only probe this region")
	return cmd
}
