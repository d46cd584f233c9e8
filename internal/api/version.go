package api

import (
	"runtime"

	"github.com/gin-gonic/gin"
)

// 构建时通过 -ldflags "-X" 注入
var (
	Version = "dev"
	Commit  = "unknown"
)

// VersionInfo 版本信息
type VersionInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	GoVersion  string `json:"go_version"`
	APIVersion string `json:"api_version"`
}

// CurrentVersion 当前构建的版本信息
func CurrentVersion() VersionInfo {
	return VersionInfo{
		Version:    Version,
		Commit:     Commit,
		GoVersion:  runtime.Version(),
		APIVersion: "v1",
	}
}

// VersionHandler 版本信息端点
func VersionHandler(c *gin.Context) {
	c.Header("X-API-Version", "v1")
	Success(c, CurrentVersion())
}
