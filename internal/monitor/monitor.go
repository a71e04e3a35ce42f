// Package monitor is the background process that re-runs the workflow
// cycle on a timer, on a filesystem trigger, or on request over the
// control socket.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/relcycle/internal/lock"
	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/notify"
	"github.com/msageha/relcycle/internal/release"
	"github.com/msageha/relcycle/internal/uds"
	"github.com/msageha/relcycle/internal/workflow"
	yamlutil "github.com/msageha/relcycle/internal/yaml"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// CycleRunner is the slice of the coordinator the monitor drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) (workflow.CycleResult, error)
	RunCycleTag(ctx context.Context, tag string) (workflow.CycleResult, error)
	State() model.WorkflowState
}

// Monitor owns the scheduling loop and the control socket.
type Monitor struct {
	workDir  string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	coordinator CycleRunner
	fileLock    *lock.FileLock
	server      *uds.Server
	watcher     *fsnotify.Watcher
	ticker      *time.Ticker

	startedAt     time.Time
	cyclesRun     atomic.Int64
	cyclesSkipped atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a monitor logging to workDir/logs/monitor.log.
func New(workDir string, cfg model.Config, coordinator CycleRunner) (*Monitor, error) {
	logPath := filepath.Join(workDir, "logs", "monitor.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open monitor log: %w", err)
	}

	return newMonitor(workDir, cfg, coordinator, logFile, logFile)
}

// newMonitor is the internal constructor for testing.
func newMonitor(workDir string, cfg model.Config, coordinator CycleRunner, w io.Writer, closer io.Closer) (*Monitor, error) {
	ctx, cancel := context.WithCancel(context.Background())

	interval := cfg.Monitor.CheckIntervalSec
	if interval <= 0 {
		interval = 3600
	}

	m := &Monitor{
		workDir:     workDir,
		config:      cfg,
		logLevel:    parseLogLevel(cfg.Logging.Level),
		logger:      log.New(w, "", 0),
		logFile:     closer,
		coordinator: coordinator,
		fileLock:    lock.NewFileLock(filepath.Join(workDir, "locks", "monitor.lock")),
		server:      uds.NewServer(filepath.Join(workDir, uds.DefaultSocketName)),
		ticker:      time.NewTicker(time.Duration(interval) * time.Second),
		startedAt:   time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
	}
	// A synchronous cycle over the control socket holds the connection
	// for the whole test run.
	if cfg.Test.TimeoutSec > 0 {
		m.server.SetConnTimeout(time.Duration(cfg.Test.TimeoutSec)*time.Second + 5*time.Minute)
	}
	m.server.SetLogf(func(format string, args ...interface{}) {
		m.log(LogLevelWarn, format, args...)
	})
	return m, nil
}

// Run starts the monitor and blocks until shutdown completes.
func (m *Monitor) Run() error {
	if err := m.start(); err != nil {
		return err
	}
	m.waitSignals()
	return nil
}

// start brings up the lock, watcher, control socket, and loops.
func (m *Monitor) start() error {
	if err := m.fileLock.TryLock(); err != nil {
		return fmt.Errorf("monitor lock: %w", err)
	}
	m.log(LogLevelInfo, "monitor starting pid=%d", os.Getpid())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.fileLock.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	m.watcher = watcher

	// Dropping any file into triggers/ requests a cycle
	triggerDir := filepath.Join(m.workDir, "triggers")
	if err := os.MkdirAll(triggerDir, 0755); err != nil {
		m.cleanup()
		return fmt.Errorf("ensure dir %s: %w", triggerDir, err)
	}
	if err := watcher.Add(triggerDir); err != nil {
		m.cleanup()
		return fmt.Errorf("watch %s: %w", triggerDir, err)
	}

	m.registerHandlers()

	if err := m.server.Start(); err != nil {
		m.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	m.log(LogLevelInfo, "control socket listening on %s", filepath.Join(m.workDir, uds.DefaultSocketName))

	m.wg.Add(2)
	go m.fsnotifyLoop()
	go m.tickerLoop()

	m.log(LogLevelInfo, "monitor ready, check interval %ds", m.config.Monitor.CheckIntervalSec)
	return nil
}

func (m *Monitor) registerHandlers() {
	m.server.Handle(uds.CmdPing, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	m.server.Handle(uds.CmdCycle, func(req *uds.Request) *uds.Response {
		var params uds.CycleParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("bad cycle params: %v", err))
			}
		}
		result, err := m.runCycle("uds", params.Tag)
		if result.Skipped {
			return uds.ErrorResponse(uds.ErrCodeBusy, "a cycle is already in flight")
		}
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeCycleFailed, err.Error())
		}
		return uds.SuccessResponse(uds.CycleData{
			CycleID:    result.CycleID,
			FinalStep:  string(result.FinalStep),
			Skipped:    result.Skipped,
			Fetched:    result.Fetched,
			ReleaseTag: result.Release.Tag,
			RolledBack: result.RolledBack,
		})
	})

	m.server.Handle(uds.CmdStatus, func(req *uds.Request) *uds.Response {
		state := m.coordinator.State()
		return uds.SuccessResponse(uds.StatusData{
			PID:           os.Getpid(),
			CurrentStep:   string(state.CurrentStep),
			CycleID:       state.CycleID,
			FailureStreak: state.FailureStreak,
			LastSavePoint: state.LastSavePointID,
			ReleaseTag:    m.currentReleaseTag(),
			StartedAt:     m.startedAt.Format(time.RFC3339),
			CyclesRun:     int(m.cyclesRun.Load()),
			CyclesSkipped: int(m.cyclesSkipped.Load()),
		})
	})

	m.server.Handle(uds.CmdShutdown, func(req *uds.Request) *uds.Response {
		m.log(LogLevelInfo, "shutdown requested via control socket")
		go m.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// runCycle executes one cycle attempt, pinned to tag when non-empty.
// Skips are normal during overlap: cycles are best-effort, a missed
// attempt is not backfilled.
func (m *Monitor) runCycle(origin, tag string) (workflow.CycleResult, error) {
	m.log(LogLevelDebug, "cycle attempt origin=%s", origin)

	var (
		result workflow.CycleResult
		err    error
	)
	if tag != "" {
		result, err = m.coordinator.RunCycleTag(m.ctx, tag)
	} else {
		result, err = m.coordinator.RunCycle(m.ctx)
	}
	switch {
	case result.Skipped:
		m.cyclesSkipped.Add(1)
		m.log(LogLevelInfo, "cycle skipped origin=%s: already in flight", origin)
	case err != nil:
		m.cyclesRun.Add(1)
		m.log(LogLevelError, "cycle %s failed: %v", result.CycleID, err)
	default:
		m.cyclesRun.Add(1)
		m.log(LogLevelInfo, "cycle %s finished step=%s fetched=%v rolled_back=%v",
			result.CycleID, result.FinalStep, result.Fetched, result.RolledBack)
	}
	if result.RolledBack {
		if nerr := notify.Rollback(m.config.Project.Name, m.coordinator.State().LastSavePointID); nerr != nil {
			m.log(LogLevelDebug, "rollback notification: %v", nerr)
		}
	}
	return result, err
}

// currentReleaseTag reads the persisted release record. The monitor
// has no gate of its own; the record file is the shared source of
// truth for what occupies the tree.
func (m *Monitor) currentReleaseTag() string {
	var rec model.ReleaseRecord
	if err := yamlutil.ReadInto(filepath.Join(m.workDir, release.RecordFileName), &rec); err != nil {
		return ""
	}
	return rec.Tag
}

func (m *Monitor) fsnotifyLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				m.log(LogLevelDebug, "trigger file %s", event.Name)
				_ = os.Remove(event.Name)
				m.runCycle("trigger", "")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

func (m *Monitor) tickerLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.ticker.C:
			m.runCycle("timer", "")
		}
	}
}

func (m *Monitor) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	m.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit
	go func() {
		<-sigCh
		m.log(LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	m.Shutdown()
}

// Shutdown performs graceful shutdown. Idempotent.
func (m *Monitor) Shutdown() {
	m.shutdown.Do(func() {
		m.log(LogLevelInfo, "shutdown started")

		m.cancel()

		m.ticker.Stop()
		if m.watcher != nil {
			m.watcher.Close()
		}
		if m.server != nil {
			m.server.Stop()
		}

		timeout := m.config.Monitor.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			m.log(LogLevelWarn, "shutdown timeout after %ds, an in-flight cycle may still be finishing", timeout)
		}

		m.cleanup()
		m.log(LogLevelInfo, "monitor stopped")
	})
}

func (m *Monitor) cleanup() {
	os.Remove(filepath.Join(m.workDir, uds.DefaultSocketName))
	m.fileLock.Unlock()
	if m.logFile != nil {
		m.logFile.Close()
	}
}

func (m *Monitor) log(level LogLevel, format string, args ...any) {
	if level < m.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	m.logger.Printf("%s %s monitor: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
