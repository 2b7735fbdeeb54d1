// Package daemon hosts the device: it owns the run loop every command
// and state mutation is confined to, the UDS control surface, the
// definitions watcher and the optional cloud channel.
package daemon

import (
	"context"
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
	"golang.org/x/sync/singleflight"

	"github.com/weftlabs/weft/internal/cloud"
	"github.com/weftlabs/weft/internal/command"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/device"
	"github.com/weftlabs/weft/internal/events"
	"github.com/weftlabs/weft/internal/lock"
	"github.com/weftlabs/weft/internal/uds"
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

// Daemon is the main weftd process.
type Daemon struct {
	weftDir  string
	config   config.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher

	device  *device.Device
	bus     *events.Bus
	audit   *events.AuditLogger
	channel *cloud.Channel

	tasks    chan func()
	reloadSF singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a new Daemon instance.
func New(weftDir string, cfg config.Config) (*Daemon, error) {
	logPath := filepath.Join(weftDir, "logs", "weftd.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(weftDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(weftDir string, cfg config.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := filepath.Join(weftDir, uds.DefaultSocketName)

	d := &Daemon{
		weftDir:  weftDir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(weftDir, "weftd.lock")),
		server:   uds.NewServer(socketPath),
		bus:      events.NewBus(0),
		tasks:    make(chan func(), 256),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.device = device.New(d.runTask)

	return d, nil
}

// Device exposes the hosted device for embedding applications that
// register their own command handlers before Run.
func (d *Daemon) Device() *device.Device { return d.device }

// Bus exposes the daemon event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}

	// Wait for signals
	d.waitSignals()
	return nil
}

// start brings up every component except signal handling.
func (d *Daemon) start() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d device=%s", os.Getpid(), d.config.Device.Name)

	// Step 2: Start the run loop before anything can post tasks
	d.wg.Add(1)
	go d.taskLoop()

	// Step 3: Load definitions and wire observers
	defsDir := d.definitionsDir()
	if err := os.MkdirAll(defsDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure definitions dir: %w", err)
	}
	if err := d.loadInitialDefinitions(defsDir); err != nil {
		d.cleanup()
		return fmt.Errorf("load definitions: %w", err)
	}
	d.wireObservers()

	// Commands without a registered handler stay queued for external
	// workers driving them over UDS.
	if !d.device.HasDefaultHandler() {
		d.device.AddCommandHandler("", func(*command.Instance) {})
	}

	// Step 4: Audit log
	if d.config.Audit.Enabled {
		audit, err := events.NewAuditLogger(filepath.Join(d.weftDir, "logs", "audit.jsonl"), d.config.Audit.MaxBytes)
		if err != nil {
			d.cleanup()
			return fmt.Errorf("open audit log: %w", err)
		}
		d.audit = audit
		d.subscribeAudit()
	}

	// Step 5: Watch the definitions dir
	if !d.config.Definitions.WatchDisabled {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			d.cleanup()
			return fmt.Errorf("create fsnotify watcher: %w", err)
		}
		d.watcher = watcher
		if err := watcher.Add(defsDir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", defsDir, err)
		}
		d.wg.Add(1)
		go d.fsnotifyLoop()
	}

	// Step 6: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.weftDir, uds.DefaultSocketName))

	// Step 7: Cloud channel
	if d.config.Cloud.Enabled && d.config.Cloud.URL != "" {
		d.channel = cloud.NewChannel(cloud.Config{
			URL:            d.config.Cloud.URL,
			Token:          d.config.Cloud.Token,
			ReconnectDelay: time.Duration(d.config.Cloud.ReconnectSec) * time.Second,
		}, &cloudDelegate{d: d})
		d.channel.SetLogf(func(format string, args ...any) {
			d.log(LogLevelWarn, format, args...)
		})
		d.channel.OnConnectionChange(func(connected bool) {
			d.log(LogLevelInfo, "cloud connection=%v url=%s", connected, d.config.Cloud.URL)
			d.bus.Publish(events.EventCloudConnection, map[string]any{"connected": connected})
		})
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.channel.Run(d.ctx)
		}()
	}

	d.log(LogLevelInfo, "daemon ready commands=%d", d.device.Dictionary().Len())
	return nil
}

func (d *Daemon) definitionsDir() string {
	dir := d.config.Definitions.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(d.weftDir, dir)
	}
	return dir
}

// runTask posts fn onto the run loop. Safe to call from within the
// loop itself: when the buffer is full the post is shifted to a
// goroutine instead of blocking.
func (d *Daemon) runTask(fn func()) {
	select {
	case d.tasks <- fn:
		return
	default:
	}
	go func() {
		select {
		case d.tasks <- fn:
		case <-d.ctx.Done():
		}
	}()
}

// do runs fn on the run loop and waits for it to finish.
func (d *Daemon) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case d.tasks <- wrapped:
	case <-d.ctx.Done():
		return fmt.Errorf("daemon shutting down")
	}

	select {
	case <-done:
		return nil
	case <-d.ctx.Done():
		return fmt.Errorf("daemon shutting down")
	}
}

// taskLoop is the single goroutine all device mutations run on.
func (d *Daemon) taskLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			// Drain tasks already posted
			for {
				select {
				case fn := <-d.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-d.tasks:
			fn()
		}
	}
}

// fsnotifyLoop debounces definition file changes into reloads.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	debounce := time.Duration(d.config.Definitions.DebounceSec * float64(time.Second))
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				if timer == nil {
					timer = time.AfterFunc(debounce, func() {
						if _, err := d.reloadDefinitions(); err != nil {
							d.log(LogLevelError, "reload definitions: %v", err)
						}
					})
				} else {
					timer.Reset(debounce)
				}
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Stop accepting new work
		if d.server != nil {
			d.server.Stop()
		}
		if d.watcher != nil {
			d.watcher.Close()
		}

		// 2. Cancel context (stops loops and the cloud channel)
		d.cancel()

		// 3. Drain with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.bus.Close()
		if d.audit != nil {
			d.audit.Close()
		}
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	d.cancel()
	socketPath := filepath.Join(d.weftDir, uds.DefaultSocketName)
	os.Remove(socketPath)
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
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
	d.logger.Printf("%s %s weftd: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
