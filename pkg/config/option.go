package config

// Option 配置选项函数
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径
func WithConfigFile(path string) Option {
	return func(c *Config) {
		c.configFile = path
	}
}

// WithConfigName 设置配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(c *Config) {
		c.configName = name
	}
}

// WithConfigType 设置配置文件类型（如 yaml, json, toml）
func WithConfigType(typ string) Option {
	return func(c *Config) {
		c.configType = typ
	}
}

// WithConfigPaths 设置配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) {
		c.configPaths = paths
	}
}

// WithOptional 找不到配置文件时仅使用默认值和环境变量
func WithOptional() Option {
	return func(c *Config) {
		c.optional = true
	}
}

// WithAutoWatch 加载后自动监控文件变更
func WithAutoWatch() Option {
	return func(c *Config) {
		c.autoWatch = true
	}
}

// WithOnChange 添加配置变更回调
func WithOnChange(fn func(*Config)) Option {
	return func(c *Config) {
		c.onChange = append(c.onChange, fn)
	}
}

// WithOnError 设置错误回调函数
func WithOnError(fn func(error)) Option {
	return func(c *Config) {
		c.onError = fn
	}
}

// WithDefaults 设置默认配置值
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		c.defaults = defaults
	}
}

// WithEnvPrefix 设置环境变量前缀，键中的 "." 替换为 "_"
// 如 HUDDLE_RATELIMIT_MESSAGE_LIMIT 覆盖 ratelimit.message.limit
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}
