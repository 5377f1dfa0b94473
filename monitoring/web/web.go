// Package web holds the page the monitor serves.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
)

// DistEnv names a directory the page is served from instead of the copy
// embedded in the binary.
const DistEnv = "SMP_MONITOR_DIST"

//go:embed dist/*
var dist embed.FS

// Embedded returns the page embedded in the binary.
func Embedded() http.FileSystem {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

// Assets returns the directory named by DistEnv, or the embedded page when
// the variable is not set.
func Assets() (http.FileSystem, error) {
	dir := os.Getenv(DistEnv)
	if dir == "" {
		return Embedded(), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", DistEnv, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %s is not a directory", DistEnv, dir)
	}

	return http.Dir(dir), nil
}
