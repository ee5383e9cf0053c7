package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件变更，调用方持有写锁
func (c *Config) startWatch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		c.mu.RLock()
		watching := c.watching
		callbacks := append([]func(*Config){}, c.onChange...)
		c.mu.RUnlock()

		if !watching {
			return
		}
		for _, fn := range callbacks {
			c.safeCall(fn)
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// safeCall 执行回调，回调 panic 通过 onError 上报
func (c *Config) safeCall(fn func(*Config)) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError(fmt.Errorf("config change callback panicked: %v", r))
		}
	}()
	fn(c)
}

// StartWatch 开始监控配置文件变更，已监控时不重复启动
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching {
		return nil
	}
	if c.viper.ConfigFileUsed() == "" {
		return fmt.Errorf("%w: nothing to watch", ErrConfigNotFound)
	}
	c.startWatch()
	return nil
}

// StopWatch 停止监控配置文件
// viper 无法停止底层 fsnotify watcher，这里只让回调失效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// OnChange 追加配置变更回调
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// reportError 报告错误，优先使用 onError 回调，否则输出到 stderr
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
	} else {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
