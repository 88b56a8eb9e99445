/**
 * 遥测错误定义
 * @date: 2026.10.19
 * @description: 注册与心跳过程中的错误分类，调用方通过 errors.Is 判断
 */
package client

import "errors"

var (
	// 部署时间缺失，注册无法进行，不重试
	ErrProvisioning = errors.New("deploy time not provisioned")

	// 网络/超时错误，视为一次失败尝试
	ErrTransport = errors.New("telemetry transport failed")

	// 非预期的状态码或响应体
	ErrProtocol = errors.New("unexpected telemetry response")

	// 心跳返回403，身份标识被收集端拒绝
	ErrIdentityRejected = errors.New("client identity rejected")
)
