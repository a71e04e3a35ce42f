package cli

import (
	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/setup"
	"github.com/msageha/relcycle/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace state: monitor, workflow, release, save points",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	treePath, err := findTree()
	if err != nil {
		return err
	}
	return status.Run(setup.WorkDir(treePath), statusJSON)
}
