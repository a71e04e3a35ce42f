package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/savepoint"
)

var savepointCmd = &cobra.Command{
	Use:   "savepoint",
	Short: "Manage tree save points",
}

var savepointReason string

var savepointCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Snapshot the current tree state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSavepointCreate,
}

var savepointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List save points, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSavepointList,
}

var savepointRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Restore the tree to a save point",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavepointRollback,
}

var savepointDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a save point and its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavepointDelete,
}

func init() {
	savepointCreateCmd.Flags().StringVar(&savepointReason, "reason", "manual", "why this save point was taken")
	savepointCmd.AddCommand(savepointCreateCmd)
	savepointCmd.AddCommand(savepointListCmd)
	savepointCmd.AddCommand(savepointRollbackCmd)
	savepointCmd.AddCommand(savepointDeleteCmd)
	rootCmd.AddCommand(savepointCmd)
}

func runSavepointCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	rec, _ := a.gate.CurrentRecord()
	sp, err := a.store.Create(name, savepoint.Metadata{
		Reason:     savepointReason,
		ReleaseTag: rec.Tag,
	})
	if err != nil {
		return exitWith(ExitSavePoint, err)
	}
	fmt.Printf("Created save point %s\n", sp.ID)
	return nil
}

func runSavepointList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	sps, err := a.store.List()
	if err != nil {
		return exitWith(ExitSavePoint, err)
	}
	if len(sps) == 0 {
		fmt.Println("No save points")
		return nil
	}
	if dirty, err := a.store.Dirty(); err == nil && dirty {
		fmt.Println("WARNING: last rollback failed partway; tree state may not match any save point")
	}
	for _, sp := range sps {
		name := sp.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf("%s  %s  %-20s %s\n", sp.ID, sp.CreatedAt, name, sp.Reason)
	}
	return nil
}

func runSavepointRollback(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	if err := a.store.Rollback(args[0]); err != nil {
		return exitWith(ExitSavePoint, err)
	}
	fmt.Printf("Rolled back tree to %s\n", args[0])
	return nil
}

func runSavepointDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	unlock, err := a.lockTree()
	if err != nil {
		return err
	}
	defer unlock()
	if err := a.store.Delete(args[0]); err != nil {
		return exitWith(ExitSavePoint, err)
	}
	fmt.Printf("Deleted save point %s\n", args[0])
	return nil
}
