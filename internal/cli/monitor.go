package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/relcycle/internal/monitor"
	"github.com/msageha/relcycle/internal/uds"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Manage the background monitor daemon",
}

var monitorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor in the foreground until signalled",
	Args:  cobra.NoArgs,
	RunE:  runMonitorRun,
}

var (
	monitorTriggerWait bool
	monitorTriggerTag  string
)

var monitorTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running monitor to start a cycle now",
	Args:  cobra.NoArgs,
	RunE:  runMonitorTrigger,
}

var monitorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running monitor's state",
	Args:  cobra.NoArgs,
	RunE:  runMonitorStatus,
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Shut the running monitor down",
	Args:  cobra.NoArgs,
	RunE:  runMonitorStop,
}

func init() {
	monitorTriggerCmd.Flags().BoolVar(&monitorTriggerWait, "wait", false, "run the cycle over the control socket and report its outcome")
	monitorTriggerCmd.Flags().StringVar(&monitorTriggerTag, "tag", "", "pin the cycle to this release tag (implies --wait)")
	monitorCmd.AddCommand(monitorRunCmd)
	monitorCmd.AddCommand(monitorTriggerCmd)
	monitorCmd.AddCommand(monitorStatusCmd)
	monitorCmd.AddCommand(monitorStopCmd)
	rootCmd.AddCommand(monitorCmd)
}

func runMonitorRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	coord, cleanup, err := buildCoordinator(a)
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := monitor.New(a.workDir, a.cfg, coord)
	if err != nil {
		return err
	}
	return m.Run()
}

func runMonitorTrigger(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}

	if !monitorTriggerWait && monitorTriggerTag == "" {
		// Drop a file into the trigger spool; the monitor's watcher
		// consumes it and runs the cycle in the background.
		client := uds.NewClient(a.socketPath())
		if _, err := client.SendCommand(uds.CmdPing, nil); err != nil {
			return err
		}
		name := fmt.Sprintf("cycle-%d", time.Now().UnixNano())
		path := filepath.Join(a.workDir, "triggers", name)
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return err
		}
		fmt.Println("Cycle requested; follow progress with 'relcycle monitor status'")
		return nil
	}

	client := uds.NewClient(a.socketPath())
	client.SetTimeout(time.Duration(a.cfg.Test.TimeoutSec)*time.Second + 5*time.Minute)
	var params any
	if monitorTriggerTag != "" {
		params = uds.CycleParams{Tag: monitorTriggerTag}
	}
	resp, err := client.SendCommand(uds.CmdCycle, params)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != nil {
			switch resp.Error.Code {
			case uds.ErrCodeBusy:
				return exitWith(ExitBusy, errors.New(resp.Error.Message))
			case uds.ErrCodeCycleFailed:
				return exitWith(ExitGeneric, fmt.Errorf("cycle failed: %s", resp.Error.Message))
			}
		}
		return udsFailure("trigger", resp)
	}
	var data uds.CycleData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return err
	}
	if data.Fetched {
		fmt.Printf("Cycle %s fetched %s, finished in step %s\n", data.CycleID, data.ReleaseTag, data.FinalStep)
	} else {
		fmt.Printf("Cycle %s finished in step %s\n", data.CycleID, data.FinalStep)
	}
	if data.RolledBack {
		fmt.Println("Tree rolled back")
	}
	return nil
}

func runMonitorStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	client := uds.NewClient(a.socketPath())
	resp, err := client.SendCommand(uds.CmdStatus, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return udsFailure("status", resp)
	}
	var data uds.StatusData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return err
	}
	fmt.Printf("Monitor:        running (pid %d, since %s)\n", data.PID, data.StartedAt)
	fmt.Printf("Current step:   %s\n", data.CurrentStep)
	if data.CycleID != "" {
		fmt.Printf("Cycle:          %s\n", data.CycleID)
	}
	fmt.Printf("Failure streak: %d\n", data.FailureStreak)
	if data.ReleaseTag != "" {
		fmt.Printf("Release:        %s\n", data.ReleaseTag)
	}
	if data.LastSavePoint != "" {
		fmt.Printf("Save point:     %s\n", data.LastSavePoint)
	}
	fmt.Printf("Cycles:         %d run, %d skipped\n", data.CyclesRun, data.CyclesSkipped)
	return nil
}

func runMonitorStop(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	client := uds.NewClient(a.socketPath())
	resp, err := client.SendCommand(uds.CmdShutdown, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return udsFailure("stop", resp)
	}
	fmt.Println("Monitor shutting down")
	return nil
}

func udsFailure(op string, resp *uds.Response) error {
	if resp.Error != nil {
		return fmt.Errorf("%s failed [%s]: %s", op, resp.Error.Code, resp.Error.Message)
	}
	return fmt.Errorf("%s failed", op)
}
