// Package web holds the page of the monitoring tool.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
)

// AssetDirEnv names the environment variable that makes the monitor serve
// the page from a directory instead of the copy built into the binary.
const AssetDirEnv = "COHSIM_MONITOR_ASSETS"

//go:embed dist/*
var staticAssets embed.FS

// GetAssets returns the files of the page.
func GetAssets() http.FileSystem {
	if dir, ok := os.LookupEnv(AssetDirEnv); ok && dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			logrus.WithField("dir", dir).Info("serving monitor page from disk")
			return http.Dir(dir)
		}

		logrus.WithField("dir", dir).
			Warn("monitor asset directory not found, using built-in page")
	}

	dist, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(dist)
}
