/**
 * 遥测通信模型
 * @date: 2026.10.19
 * @description: Agent与遥测收集端之间的注册/心跳数据结构
 */
package client

// 操作系统类型
const (
	OSTypeWindows = "Windows"
	OSTypeLinux   = "Linux"
	OSTypeMacOS   = "macOS"
	OSTypeUnknown = "Unknown"
)

// 协议常量
const (
	RegisterPath       = "/stat/reg_client"
	HeartbeatPath      = "/stat/client_heartbeat"
	HeaderClientUUID   = "Client-UUID"
	UserAgentPrefix    = "HeartbeatClient/"
	UserAgentIDPrefixN = 8 // User-Agent 中携带的身份标识前缀长度
)

// RegisterRequest 注册请求
// DeployTime 原样透传本地存储中的值（字符串或数字）
type RegisterRequest struct {
	DeployTime interface{} `json:"deploy_time"`
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	MMCUUID string `json:"mmc_uuid"`
}

// SystemInfoSnapshot 心跳请求体，任务创建时计算一次
type SystemInfoSnapshot struct {
	OSType     string `json:"os_type"`     // Windows/Linux/macOS/Unknown
	PyVersion  string `json:"py_version"`  // 运行时版本
	MMCVersion string `json:"mmc_version"` // 应用版本
}

// ClientRecord 收集端记录的客户端信息
type ClientRecord struct {
	UUID          string              `json:"uuid"`
	DeployTime    interface{}         `json:"deploy_time"`
	RegisteredAt  int64               `json:"registered_at"`
	LastHeartbeat int64               `json:"last_heartbeat,omitempty"`
	Heartbeats    int                 `json:"heartbeats"`
	UserAgent     string              `json:"user_agent,omitempty"`
	Snapshot      *SystemInfoSnapshot `json:"snapshot,omitempty"`
}

// UserAgentFor 根据身份标识生成心跳User-Agent，标识不足8位时使用完整标识
func UserAgentFor(identity string) string {
	prefix := identity
	if len(prefix) > UserAgentIDPrefixN {
		prefix = prefix[:UserAgentIDPrefixN]
	}
	return UserAgentPrefix + prefix
}
