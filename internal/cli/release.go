package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downloadTag string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch the latest release (or a pinned tag) into the tree",
	Args:  cobra.NoArgs,
	RunE:  runDownload,
}

var uploadMessage string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Publish the current tree state to the release repository",
	Args:  cobra.NoArgs,
	RunE:  runUpload,
}

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List release tags available upstream, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReleases,
}

func init() {
	downloadCmd.Flags().StringVar(&downloadTag, "tag", "", "fetch this tag instead of the newest one")
	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "relcycle upload", "commit message for the published state")
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(releasesCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	ctx := cmd.Context()

	if downloadTag != "" {
		rec, err := a.gate.Fetch(ctx, downloadTag)
		if err != nil {
			return exitWith(ExitRelease, err)
		}
		fmt.Printf("Fetched %s into %s\n", rec.Tag, a.treePath)
		return nil
	}

	rec, fetched, err := a.gate.CheckAndFetch(ctx)
	if err != nil {
		return exitWith(ExitRelease, err)
	}
	if !fetched {
		if rec.Tag == "" {
			fmt.Println("No releases available upstream")
		} else {
			fmt.Printf("Already current at %s\n", rec.Tag)
		}
		return nil
	}
	fmt.Printf("Fetched %s into %s\n", rec.Tag, a.treePath)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	if err := a.gate.Push(cmd.Context(), uploadMessage); err != nil {
		return exitWith(ExitRelease, err)
	}
	fmt.Println("Uploaded tree state to", a.cfg.Repo.URL)
	return nil
}

func runReleases(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	tags, err := a.gate.ListReleases(cmd.Context())
	if err != nil {
		return exitWith(ExitRelease, err)
	}
	if len(tags) == 0 {
		fmt.Println("No releases available upstream")
		return nil
	}
	current, _ := a.gate.CurrentRecord()
	for _, tag := range tags {
		marker := " "
		if tag == current.Tag {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, tag)
	}
	return nil
}
