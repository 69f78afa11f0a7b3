package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hive/internal/manager"
	"hive/internal/metrics"
	"hive/internal/notify"
	"hive/internal/scheduler"
	"hive/internal/session"
)

const managerPIDFile = ".hive.manager.pid"

// cmdManager implements `hive manager start|stop|status`.
func cmdManager(args []string) error {
	if len(args) == 0 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive manager <start|stop|status>")}
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "start":
		return cmdManagerStart(rest)
	case "stop":
		return cmdManagerStop(rest)
	case "status":
		return cmdManagerStatus(rest)
	default:
		return exitErr{code: 1, err: fmt.Errorf("unknown manager subcommand %q", sub)}
	}
}

func cmdManagerStart(args []string) error {
	fs := flag.NewFlagSet("manager start", flag.ContinueOnError)
	background := fs.Bool("background", false, "fork the daemon and return immediately")
	metricsAddr := fs.String("metrics-addr", ":9090", "address the /healthz and /metrics endpoints listen on")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	root, err := findWorkspaceRoot()
	if err != nil {
		return exitErr{code: 1, err: err}
	}

	if *background {
		return forkManagerDaemon(root, *metricsAddr)
	}

	return runManagerForeground(root, *metricsAddr)
}

// forkManagerDaemon re-execs the current binary as a detached background
// process running `manager start` in the foreground, recording its pid so
// `manager stop`/`manager status` can find it again.
func forkManagerDaemon(root, metricsAddr string) error {
	if pid, alive := readManagerPID(root); alive {
		return exitErr{code: 1, err: fmt.Errorf("manager daemon already running (pid %d)", pid)}
	}

	self, err := os.Executable()
	if err != nil {
		return exitErr{code: 2, err: err}
	}
	logPath := filepath.Join(root, "logs", "manager.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return exitErr{code: 2, err: err}
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return exitErr{code: 2, err: err}
	}
	defer logFile.Close()

	cmd := exec.Command(self, "manager", "start", "--metrics-addr="+metricsAddr)
	cmd.Dir = root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return exitErr{code: 2, err: fmt.Errorf("start manager daemon: %w", err)}
	}

	if err := os.WriteFile(filepath.Join(root, managerPIDFile), []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		return exitErr{code: 2, err: err}
	}

	fmt.Printf("manager daemon started in background (pid %d), logging to %s\n", cmd.Process.Pid, logPath)
	return nil
}

// runManagerForeground runs the reconciliation loop and metrics server
// directly in this process until interrupted, the way the teacher's own
// main loop runs its server under signal.Notify (spec §4.3).
func runManagerForeground(root, metricsAddr string) error {
	return withHiveContext(func(h *hiveCtx) error {
		sup := session.NewTmux("hive")
		sched := scheduler.New(h.store, sup, h.cfg.schedulerConfig(root), h.log)

		vcs, err := h.vcsConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		pm, err := h.pmConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}

		var notifier notify.Notifier
		if h.cfg.SlackToken != "" {
			notifier = notify.NewSlackNotifier(h.cfg.SlackToken, h.cfg.SlackChannel)
		}

		m := metrics.New()
		d := manager.New(h.store, sup, sched, vcs, pm, m, notifier, h.cfg.managerConfig(root), h.log)

		srv := &http.Server{Addr: metricsAddr, Handler: m.Mux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				h.log.Error("metrics server failed", "error", err)
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Println("manager: shutting down")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		fmt.Printf("manager daemon running, metrics at %s/metrics\n", metricsAddr)
		d.Run(ctx)
		return nil
	})
}

func cmdManagerStop(args []string) error {
	root, err := findWorkspaceRoot()
	if err != nil {
		return exitErr{code: 1, err: err}
	}
	pid, alive := readManagerPID(root)
	if !alive {
		return exitErr{code: 1, err: fmt.Errorf("no running manager daemon found")}
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return exitErr{code: 2, err: fmt.Errorf("signal pid %d: %w", pid, err)}
	}
	_ = os.Remove(filepath.Join(root, managerPIDFile))
	fmt.Printf("sent SIGTERM to manager daemon (pid %d)\n", pid)
	return nil
}

func cmdManagerStatus(args []string) error {
	root, err := findWorkspaceRoot()
	if err != nil {
		return exitErr{code: 1, err: err}
	}
	pid, alive := readManagerPID(root)
	if !alive {
		fmt.Println("manager daemon is not running")
		return nil
	}
	fmt.Printf("manager daemon is running (pid %d)\n", pid)
	return nil
}

// readManagerPID returns the pid recorded in the workspace's pid file and
// whether that process still appears to be alive.
func readManagerPID(root string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(root, managerPIDFile))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return pid, false
	}
	return pid, true
}
