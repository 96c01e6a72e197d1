// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import (
	"path"
	"strings"
)

// FileNode is one entry of a device's file tree. Content is only set for
// entries classified as text.
type FileNode struct {
	Path    string  `json:"file_path"`
	Name    string  `json:"file_name"`
	Parent  string  `json:"parent_path,omitempty"`
	IsDir   bool    `json:"is_directory"`
	Size    int64   `json:"file_size"`
	Content *string `json:"content,omitempty"`
}

// NewFileNode builds a node for a slash separated path relative to the
// device root.
func NewFileNode(p string, size int64, isDir bool) FileNode {
	p = strings.Trim(p, "/")
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	return FileNode{
		Path:   p,
		Name:   path.Base(p),
		Parent: parent,
		IsDir:  isDir,
		Size:   size,
	}
}
