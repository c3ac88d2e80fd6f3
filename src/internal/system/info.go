package system

import (
	"fmt"
	"runtime"
)

// Info describes the process host, reported by health checks.
type Info struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
}

func GetInfo() Info {
	return Info{OS: runtime.GOOS, Arch: runtime.GOARCH, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("%s/%s, %s", i.OS, i.Arch, i.GoVersion)
}
