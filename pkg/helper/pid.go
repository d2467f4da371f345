package helper

import (
	"os"
	"path/filepath"
)

// DefaultPIDPath is used when no usable pid file location is configured
const DefaultPIDPath = "/var/run/chatline.pid"

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. ./{filename} when its parent directory exists
// 3. Otherwise, fallback to DefaultPIDPath
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if p := pidInWorkDir(filename); p != "" {
		return p
	}
	return DefaultPIDPath
}

func pidInWorkDir(filename string) string {
	if filename == "" {
		return ""
	}

	currentDir, err := os.Getwd()
	if err != nil || currentDir == "" {
		return ""
	}

	absPath, err := filepath.Abs(filepath.Join(currentDir, filename))
	if err != nil {
		return ""
	}
	if _, err := os.Stat(filepath.Dir(absPath)); err != nil {
		return ""
	}
	return absPath
}
