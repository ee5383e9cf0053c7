package tracing

import (
	"fmt"
	"time"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp_grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	// ServiceName 服务名称（必填）
	ServiceName string `mapstructure:"service_name"`

	// ServiceVersion 服务版本
	ServiceVersion string `mapstructure:"service_version"`

	// Environment 部署环境（dev/staging/prod）
	Environment string `mapstructure:"environment"`

	// Instance 实例标识，多实例部署时区分来源
	Instance string `mapstructure:"instance"`

	// Exporter 导出器类型（otlp/otlp_grpc/stdout/noop）
	Exporter string `mapstructure:"exporter"`

	// Endpoint Collector 地址，为空时读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `mapstructure:"endpoint"`

	// Headers 导出请求头（用于认证）
	Headers map[string]string `mapstructure:"headers"`

	// Insecure 使用明文连接
	Insecure bool `mapstructure:"insecure"`

	// SamplingRate 采样率（0.0-1.0）
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// SamplingType 采样策略（always/never/ratio/parent_based）
	SamplingType string `mapstructure:"sampling_type"`

	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Attributes 自定义资源属性
	Attributes map[string]string `mapstructure:"attributes"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`         // 批量导出超时（默认 5s）
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"` // 最大批量大小（默认 512）
	MaxQueueSize       int           `mapstructure:"max_queue_size"`        // 最大队列大小（默认 2048）
}

// DefaultConfig 返回默认配置，默认不导出
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "huddle",
		ServiceVersion:     "dev",
		Environment:        "development",
		Exporter:           ExporterNoop,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("tracing: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("tracing: sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}
	switch c.Exporter {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return fmt.Errorf("tracing: invalid exporter type %q", c.Exporter)
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxExportBatchSize <= 0 {
		c.MaxExportBatchSize = 512
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 2048
	}
	return nil
}
