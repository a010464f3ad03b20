package fragments

import (
	"embed"
	"io/fs"
)

//go:embed defaults/*
var defaultFiles embed.FS

// Defaults returns the fragments compiled into the binary.
func Defaults() fs.FS {
	sub, err := fs.Sub(defaultFiles, "defaults")
	if err != nil {
		panic(err)
	}
	return sub
}
