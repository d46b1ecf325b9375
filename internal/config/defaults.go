// Package config handles configuration loading and validation for snipd.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/snipd/
//   - Linux:   ~/.local/share/snipd/
//   - Windows: %APPDATA%\snipd\
//
// Falls back to ~/.snipd if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "snipd")
	case "linux":
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "snipd")
		}
		return filepath.Join(homeDir(), ".local", "share", "snipd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "snipd")
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", "snipd")
	default:
		return filepath.Join(homeDir(), ".snipd")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/snipd/
//   - Linux:   ~/.config/snipd/
//   - Windows: %APPDATA%\snipd\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "snipd")
		}
		return filepath.Join(homeDir(), ".config", "snipd")
	default:
		// macOS and Windows keep config next to data.
		return PlatformDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/snipd/
//   - Linux:   ~/.local/share/snipd/logs/
//   - Windows: %LOCALAPPDATA%\snipd\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", "snipd")
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "snipd", "logs")
		}
		return filepath.Join(homeDir(), "AppData", "Local", "snipd", "logs")
	default:
		return filepath.Join(PlatformDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory for
// sockets and PID files.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/snipd/ or /tmp/snipd-$UID/
//   - macOS:   /tmp/snipd-$UID/
//   - Windows: "" (named pipes, no filesystem path)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "snipd")
		}
		return filepath.Join("/tmp", "snipd-"+strconv.Itoa(os.Getuid()))
	case "windows":
		return ""
	default:
		return filepath.Join("/tmp", "snipd-"+strconv.Itoa(os.Getuid()))
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the first found config file, or empty string if none exists.
func FindConfigFile() string {
	searchDirs := []string{
		".",
		PlatformConfigDir(),
		PlatformDataDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
