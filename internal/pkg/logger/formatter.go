// 结构化日志封装
package logger

import (
	"github.com/sirupsen/logrus"
)

// LogType 日志类型
type LogType string

const (
	// AccessLog 访问日志 - 记录收集端收到的HTTP请求
	AccessLog LogType = "access"
	// SystemLog 系统日志 - 记录组件运行状态
	SystemLog LogType = "system"
	// TelemetryLog 遥测日志 - 记录注册与心跳结果
	TelemetryLog LogType = "telemetry"
)

// AccessLogEntry 访问日志条目
type AccessLogEntry struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	StatusCode   int    `json:"status_code"`
	ResponseTime int64  `json:"response_time"` // 毫秒
	ClientIP     string `json:"client_ip"`
	UserAgent    string `json:"user_agent"`
	ClientUUID   string `json:"client_uuid"`
}

// LogAccessRequest 记录访问日志
func LogAccessRequest(entry AccessLogEntry) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":          AccessLog,
		"method":        entry.Method,
		"path":          entry.Path,
		"status_code":   entry.StatusCode,
		"response_time": entry.ResponseTime,
		"client_ip":     entry.ClientIP,
		"user_agent":    entry.UserAgent,
	}
	if entry.ClientUUID != "" {
		fields["client_uuid"] = entry.ClientUUID
	}

	e := LoggerInstance.logger.WithFields(fields)
	switch {
	case entry.StatusCode >= 500:
		e.Error("HTTP request")
	case entry.StatusCode >= 400:
		e.Warn("HTTP request")
	default:
		e.Info("HTTP request")
	}
}

// LogSystemEvent 记录系统事件日志
// component: 组件名称, event: 事件名称, message: 描述, level: 日志级别
func LogSystemEvent(component, event, message string, level LogLevel, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	LoggerInstance.logger.WithFields(fields).Log(toLogrusLevel(level), message)
}

// LogTelemetryEvent 记录遥测事件日志
func LogTelemetryEvent(operation, result, message string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":      TelemetryLog,
		"operation": operation,
		"result":    result,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	e := LoggerInstance.logger.WithFields(fields)
	if result == "failed" {
		e.Warn(message)
		return
	}
	e.Info(message)
}

// LogLevel 日志级别类型，封装logrus.Level避免业务层直接依赖logrus
type LogLevel int

const (
	// DebugLevel 调试级别
	DebugLevel LogLevel = iota
	// InfoLevel 信息级别
	InfoLevel
	// WarnLevel 警告级别
	WarnLevel
	// ErrorLevel 错误级别
	ErrorLevel
)

// toLogrusLevel 将封装的LogLevel转换为logrus.Level
func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
