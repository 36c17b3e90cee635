package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDirName = "mcphub"

// LogDir returns the standard log directory for the current OS:
// %LOCALAPPDATA%\mcphub\logs on Windows, ~/Library/Logs/mcphub on macOS,
// and the XDG state directory (or /var/log for root) on Linux.
func LogDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return windowsLogDir()
	case "darwin":
		return darwinLogDir()
	case "linux":
		return linuxLogDir()
	default:
		return fallbackLogDir()
	}
}

func windowsLogDir() (string, error) {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return fallbackLogDir()
		}
		localAppData = filepath.Join(userProfile, "AppData", "Local")
	}
	return filepath.Join(localAppData, appDirName, "logs"), nil
}

func darwinLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fallbackLogDir()
	}
	return filepath.Join(homeDir, "Library", "Logs", appDirName), nil
}

func linuxLogDir() (string, error) {
	if os.Getuid() == 0 {
		return filepath.Join("/var/log", appDirName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fallbackLogDir()
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		stateDir = filepath.Join(homeDir, ".local", "state")
	}

	return filepath.Join(stateDir, appDirName, "logs"), nil
}

func fallbackLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName, "logs"), nil
	}
	return filepath.Join(homeDir, "."+appDirName, "logs"), nil
}

// EnsureLogDir creates the log directory if it does not exist.
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// LogFilePath returns the full path for a log file in the standard log
// directory, creating the directory if needed.
func LogFilePath(filename string) (string, error) {
	logDir, err := LogDir()
	if err != nil {
		return "", err
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}

// LogFilePathIn returns the full path for a log file in a custom directory.
// An empty directory means the standard one; a leading "~/" expands to the
// user's home.
func LogFilePathIn(logDir, filename string) (string, error) {
	if logDir == "" {
		return LogFilePath(filename)
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
