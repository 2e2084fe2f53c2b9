// Package web embeds the pages of the emulation monitor.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DevEnv names the environment variable that makes the monitor serve the
// pages from the source tree, so they can be edited without rebuilding.
const DevEnv = "FIRMHOOK_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// GetAssets returns the monitor pages.
func GetAssets() http.FileSystem {
	if dir, ok := sourceDir(); ok {
		slog.Warn("serving monitor pages from the source tree", "dir", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

func sourceDir() (string, bool) {
	on, err := strconv.ParseBool(os.Getenv(DevEnv))
	if err != nil || !on {
		return "", false
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot locate the monitor sources")
	}

	return filepath.Join(filepath.Dir(file), "dist"), true
}
