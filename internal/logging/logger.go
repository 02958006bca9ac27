package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/genui-chat/offline-worker/internal/config"
	"github.com/genui-chat/offline-worker/internal/version"
)

// serviceName 出现在每条日志的 service 字段，便于与上游站点日志区分。
const serviceName = "offline-worker"

// InitLogger 按全局配置构建 worker 日志：JSON 输出，每条记录带上进程版本、
// 作用域源与存储驱动，文件输出经 lumberjack 轮转。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := newLogger(output, level)
	logger.AddHook(processFieldsHook{fields: ProcessFields(cfg)})

	// 第三方库经由标准 logrus 输出，保持同样的格式与去向。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// ProcessFields 返回每条 worker 日志都携带的进程级字段。
func ProcessFields(cfg config.GlobalConfig) logrus.Fields {
	fields := logrus.Fields{
		"service":       serviceName,
		"build_version": version.Version,
		"build_commit":  version.Commit,
	}
	if cfg.Origin != "" {
		fields["origin"] = cfg.Origin
	}
	if cfg.StorageDriver != "" {
		fields["storage_driver"] = cfg.StorageDriver
	}
	return fields
}

// Discard 返回丢弃所有输出的 logger，供测试与 --check-config 之类的短命令使用。
func Discard() *logrus.Logger {
	return newLogger(io.Discard, logrus.InfoLevel)
}

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(newFormatter())
	return logger
}

// newFormatter 统一时间戳精度，消息字段命名为 message 以便日志平台直接索引。
func newFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	}
}

// openOutput 打开日志 Writer；目录不可用时降级到 stdout 并返回原因。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// processFieldsHook 把进程级字段补进每条记录，不覆盖调用方显式设置的同名字段。
type processFieldsHook struct {
	fields logrus.Fields
}

func (h processFieldsHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h processFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}
