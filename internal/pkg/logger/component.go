package logger

import (
	"github.com/sirupsen/logrus"
)

// ComponentLogger 组件日志器
// 所有日志都带有 component 字段，供需要注入日志接口的组件使用
type ComponentLogger struct {
	component string
	base      *logrus.Logger
}

// NewComponentLogger 创建组件日志器，未初始化全局日志时回退到logrus标准实例
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

// NewComponentLoggerWith 基于指定的logrus实例创建组件日志器
func NewComponentLoggerWith(base *logrus.Logger, component string) *ComponentLogger {
	return &ComponentLogger{component: component, base: base}
}

func (l *ComponentLogger) entry() *logrus.Entry {
	base := l.base
	if base == nil {
		if LoggerInstance != nil {
			base = LoggerInstance.logger
		} else {
			base = logrus.StandardLogger()
		}
	}
	return base.WithField("component", l.component)
}

// Debug 调试日志
func (l *ComponentLogger) Debug(msg string) {
	l.entry().Debug(msg)
}

// Info 信息日志
func (l *ComponentLogger) Info(msg string) {
	l.entry().Info(msg)
}

// Error 错误日志
func (l *ComponentLogger) Error(msg string) {
	l.entry().Error(msg)
}
