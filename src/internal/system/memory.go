package system

import (
	"log/slog"
	"runtime"
)

type Memory struct {
	AllocMB uint64 `json:"alloc_mb"`
	SysMB   uint64 `json:"sys_mb"`
	NumGC   uint32 `json:"num_gc"`
}

func ReadMemory() Memory {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Memory{AllocMB: bToMb(m.Alloc), SysMB: bToMb(m.Sys), NumGC: m.NumGC}
}

// LogMemoryUsage logs the current memory usage of the process.
func LogMemoryUsage(tag string) {
	m := ReadMemory()
	slog.Info("memory usage", "tag", tag, "alloc_mb", m.AllocMB, "sys_mb", m.SysMB, "num_gc", m.NumGC)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
