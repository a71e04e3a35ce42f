package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/setup"
)

var (
	initName string
	initRepo string
)

var initCmd = &cobra.Command{
	Use:   "init [tree]",
	Short: "Initialize a .relcycle/ workspace in the target tree",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name (defaults to the tree's directory name)")
	initCmd.Flags().StringVar(&initRepo, "repo", "", "release repository URL")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	tree := "."
	if len(args) == 1 {
		tree = args[0]
	}
	abs, err := filepath.Abs(tree)
	if err != nil {
		return err
	}
	if err := setup.Run(abs, initName, initRepo); err != nil {
		return err
	}
	fmt.Printf("Initialized %s in %s\n", setup.WorkspaceDirName, abs)
	if initRepo == "" {
		fmt.Println("Set the release repository with: relcycle config set repo.url <url>")
	}
	return nil
}
