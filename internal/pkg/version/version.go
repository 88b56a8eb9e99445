// 版本信息，BuildTime/GitCommit 在构建时通过 -ldflags 注入
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.7.0" // 版本号 -- 发布时候更新版本号
	BuildTime string
	GitCommit string
)

func GetVersion() string {
	return Version
}

// GetFullVersion 完整版本描述
func GetFullVersion() string {
	s := Version
	if GitCommit != "" {
		s += "+" + GitCommit
	}
	if BuildTime != "" {
		s += " (" + BuildTime + ")"
	}
	return fmt.Sprintf("%s %s/%s %s", s, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
