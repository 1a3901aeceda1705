package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/tangthinker/watchman/internal/backup"
	"github.com/tangthinker/watchman/internal/config"
	"github.com/tangthinker/watchman/internal/daemon"
	"github.com/tangthinker/watchman/internal/history"
	"github.com/tangthinker/watchman/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var configFile = flag.String("config", config.DefaultPath(), "配置文件路径")

// 检查是否已有守护进程在运行
func checkRunningDaemon(pidFile string) bool {
	output, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil || pid <= 0 {
		os.Remove(pidFile)
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidFile)
		return false
	}

	// 在Unix系统中，发送信号0用于检查进程是否存在
	if err := process.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidFile)
		return false
	}
	return true
}

// 创建进程锁
func createPIDFile(pidFile string) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	// 如果有命令行参数，作为客户端运行
	if flag.NArg() > 0 {
		os.Exit(runClient(flag.Args()))
	}

	// 否则作为守护进程运行
	if err := runAsDaemon(); err != nil {
		fmt.Fprintf(os.Stderr, "watchman: %v\n", err)
		os.Exit(1)
	}
}

func runAsDaemon() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	log, closer := logging.New(cfg.Logging)
	defer closer.Close()

	if checkRunningDaemon(cfg.PIDFile) {
		return fmt.Errorf("watchman daemon is already running")
	}
	if err := createPIDFile(cfg.PIDFile); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer os.Remove(cfg.PIDFile)

	hist, err := history.Open(cfg.History, log)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	if hist != nil {
		defer hist.Close()
	}

	manager, err := backup.NewManager(backup.Options{
		StorePath: cfg.StorePath,
		Archiver:  backup.NewArchiver(cfg.Archiver),
		History:   hist,
		LogLines:  cfg.LogLines,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create backup manager: %w", err)
	}

	tick, _ := cfg.TickDuration()
	scheduler := backup.NewScheduler(manager, tick, log)

	server, err := daemon.NewServer(manager, cfg.SocketPath, cfg.DefaultDestRoot, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	go func() {
		err := config.Watch(ctx, *configFile, log, func(next *config.Config) {
			logging.SetLevel(next.Logging.Level)
			manager.SetArchiver(backup.NewArchiver(next.Archiver))
			server.SetDefaultDestRoot(next.DefaultDestRoot)
			if d, err := next.TickDuration(); err == nil {
				scheduler.SetTick(d)
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	scheduler.Start()
	notify(log, sd.SdNotifyReady)
	log.Info().Str("config", *configFile).Str("store", cfg.StorePath).Msg("watchman daemon started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	log.Info().Msg("shutting down watchman")
	notify(log, sd.SdNotifyStopping)
	scheduler.Stop()
	if err := server.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close server")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}

func notify(log zerolog.Logger, state string) {
	sent, err := sd.SdNotify(false, state)
	if err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}
