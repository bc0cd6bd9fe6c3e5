package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"releasepipe/internal/version"
)

func (a *app) newResolveCmd() *cobra.Command {
	var showArtifact bool

	cmd := &cobra.Command{
		Use:   "resolve <ref>",
		Short: "Print the release version a ref resolves to",
		Example: `  releasepipe resolve refs/tags/v2.1.0    # 2.1.0
  releasepipe resolve refs/heads/develop  # latest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ver := version.Resolve(args[0])
			if showArtifact {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.ArtifactName(ver))
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), ver)
			return err
		},
	}

	cmd.Flags().BoolVar(&showArtifact, "artifact", false, "print the image artifact name instead")
	return cmd
}
