package monitor

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"mmcagent/internal/model/client"
)

// CollectSnapshot 采集心跳上报的系统信息快照
func CollectSnapshot(appVersion string) *client.SystemInfoSnapshot {
	return &client.SystemInfoSnapshot{
		OSType:     DetectOSType(),
		PyVersion:  runtime.Version(),
		MMCVersion: appVersion,
	}
}

// DetectOSType 识别操作系统类型
// 优先使用编译目标，无法识别时再询问gopsutil
func DetectOSType() string {
	if t := osTypeFromName(runtime.GOOS); t != client.OSTypeUnknown {
		return t
	}
	if hInfo, err := host.Info(); err == nil {
		return osTypeFromName(hInfo.OS)
	}
	return client.OSTypeUnknown
}

func osTypeFromName(name string) string {
	switch strings.ToLower(name) {
	case "windows":
		return client.OSTypeWindows
	case "linux":
		return client.OSTypeLinux
	case "darwin", "macos":
		return client.OSTypeMacOS
	default:
		return client.OSTypeUnknown
	}
}
