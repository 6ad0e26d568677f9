package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/refpin/pkg/refpin"
)

var (
	resolveEnv     string
	resolveRegion  string
	resolveChannel string
	resolveFetch   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve SERVICE",
	Short: "Show which config ref a service uses in an env and region",
	Long: `Resolves the config ref for one service target and prints it with the
rule that produced it (service-channel, region-pin, default-channel or
env-pin). With --fetch the ref is also checked out and its path printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(clientOptions{})
		if err != nil {
			return err
		}

		req := refpin.Request{
			Service: args[0],
			Channel: resolveChannel,
			Env:     resolveEnv,
			Region:  resolveRegion,
		}
		ref, err := client.Resolve(req)
		if err != nil {
			return err
		}

		info("%s  (%s)", ref.Ref, ref.Provenance)
		if ref.Channel != "" {
			detail("channel: %s", ref.Channel)
		}

		if resolveFetch {
			h, err := client.GetOrFetchCheckout(cmd.Context(), ref.Ref)
			if err != nil {
				return err
			}
			info("%s", h.Path)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveEnv, "env", "", "environment (required)")
	resolveCmd.Flags().StringVar(&resolveRegion, "region", "", "region (required)")
	resolveCmd.Flags().StringVar(&resolveChannel, "channel", "", "channel the service follows")
	resolveCmd.Flags().BoolVar(&resolveFetch, "fetch", false, "also check out the resolved ref")
	_ = resolveCmd.MarkFlagRequired("env")
	_ = resolveCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(resolveCmd)
}
