package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tracespool/internal/config"
	"tracespool/internal/daemonctl"
	"tracespool/internal/ipc"
	"tracespool/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) socketPath() string {
	cfg := c.configValue()
	if cfg == nil {
		return ""
	}
	return cfg.SocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return wrapDialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

// withQueue runs fn against the daemon when it answers on its socket, and
// against the spool directly otherwise.
func (c *commandContext) withQueue(fn func(queueAPI) error) error {
	return c.withDaemonOrSpool(
		func(client *ipc.Client) error { return fn(&queueIPCAdapter{client: client}) },
		func(mgr *queue.Manager) error { return fn(&queueOfflineAdapter{manager: mgr}) },
	)
}

// withDaemonOrSpool dispatches to online when the daemon socket answers and
// to offline otherwise. Offline access holds the daemon lock so a daemon
// cannot start underneath the command.
func (c *commandContext) withDaemonOrSpool(online func(*ipc.Client) error, offline func(*queue.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if client, dialErr := ipc.Dial(cfg.SocketPath()); dialErr == nil {
		defer client.Close()
		return online(client)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire spool lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon holds %s but its socket %s is not answering; retry shortly", cfg.LockPath(), cfg.SocketPath())
	}
	defer lock.Unlock()

	mgr, closeFn, err := daemonctl.OpenOffline(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return offline(mgr)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `tracespool start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
