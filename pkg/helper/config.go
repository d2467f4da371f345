package helper

import (
	"os"
	"path/filepath"
)

// ConfDirEnv names the directory searched before the working directory
const ConfDirEnv = "CHATLINE_CONF_DIR"

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check $CHATLINE_CONF_DIR/{filename}
// 3. Check ./{filename} and ./configs/{filename}
// 4. Otherwise, fallback to /etc/chatline/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}

	if filepath.IsAbs(filename) {
		return filename
	}

	if dir := os.Getenv(ConfDirEnv); dir != "" {
		if p, ok := existingAbs(filepath.Join(dir, filename)); ok {
			return p
		}
	}

	currentDir, err := os.Getwd()
	if err == nil && currentDir != "" {
		for _, candidate := range []string{
			filepath.Join(currentDir, filename),
			filepath.Join(currentDir, "configs", filename),
		} {
			if p, ok := existingAbs(candidate); ok {
				return p
			}
		}
	}

	// fallback
	return filepath.Join("/etc/chatline", filename)
}

func existingAbs(path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}
