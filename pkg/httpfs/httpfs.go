// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpfs serves GET and POST requests from a directory tree.
package httpfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// Response bodies of non-content responses.
const (
	msgNotFound      = "File or folder not found"
	msgNotReadable   = "This file does not have read permissions"
	msgReadFailed    = "Error while reading the file contents"
	msgOverwritten   = "File is overwritten."
	msgCreated       = "File is created."
	msgReadOnly      = "File is read only."
	msgIsDirectory   = "This is a directory."
	msgWriteFailed   = "Error while writing the file contents"
	msgListingFailed = "Error while listing the directory"
)

// FileSystem answers requests relative to its root directory. Request paths can never escape the root.
type FileSystem struct {
	root string
}

// New FileSystem for an existing root directory.
func New(root string) (*FileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if fi, err := os.Stat(abs); err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	return &FileSystem{root: abs}, nil
}

// Root directory of this FileSystem.
func (fsys *FileSystem) Root() string {
	return fsys.root
}

// resolve a request path below the root.
func (fsys *FileSystem) resolve(reqPath string) string {
	clean := path.Clean("/" + strings.ReplaceAll(reqPath, "\\", "/"))
	return filepath.Join(fsys.root, filepath.FromSlash(clean))
}

func (fsys *FileSystem) log(method rdt.Method, reqPath string) *log.Entry {
	return log.WithFields(log.Fields{
		"root":   fsys.root,
		"method": method,
		"path":   reqPath,
	})
}

// Get lists a directory, one entry per line, or returns a file's content.
func (fsys *FileSystem) Get(reqPath string) (body []byte, status string) {
	target := fsys.resolve(reqPath)
	logger := fsys.log(rdt.MethodGet, reqPath)

	fi, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("Requested file does not exist")
		return []byte(msgNotFound), rdt.StatusNotFound
	} else if err != nil {
		logger.WithError(err).Warn("Stat of requested file failed")
		return []byte(msgReadFailed), rdt.StatusInternalServerError
	}

	if fi.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			logger.WithError(err).Warn("Listing requested directory failed")
			return []byte(msgListingFailed), rdt.StatusInternalServerError
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		var b strings.Builder
		for _, name := range names {
			b.WriteString(name)
			b.WriteByte('\n')
		}
		return []byte(b.String()), rdt.StatusOK
	}

	if !fi.Mode().IsRegular() {
		return []byte(msgNotFound), rdt.StatusNotFound
	}

	data, err := os.ReadFile(target)
	switch {
	case errors.Is(err, fs.ErrPermission):
		logger.Info("Requested file is not readable")
		return []byte(msgNotReadable), rdt.StatusForbidden
	case err != nil:
		logger.WithError(err).Warn("Reading requested file failed")
		return []byte(msgReadFailed), rdt.StatusInternalServerError
	}

	logger.WithField("size", len(data)).Debug("Serving file")
	return data, rdt.StatusOK
}

// Post overwrites an existing file or creates a new one, including its parent directories.
func (fsys *FileSystem) Post(reqPath string, content []byte) (body []byte, status string) {
	target := fsys.resolve(reqPath)
	logger := fsys.log(rdt.MethodPost, reqPath)

	if target == fsys.root {
		return []byte(msgIsDirectory), rdt.StatusNotAcceptable
	}

	fi, err := os.Stat(target)
	switch {
	case err == nil && fi.IsDir():
		logger.Info("Refusing to overwrite a directory")
		return []byte(msgIsDirectory), rdt.StatusNotAcceptable

	case err == nil:
		f, openErr := os.OpenFile(target, os.O_WRONLY|os.O_TRUNC, 0)
		if errors.Is(openErr, fs.ErrPermission) {
			logger.Info("Refusing to overwrite a read only file")
			return []byte(msgReadOnly), rdt.StatusForbidden
		} else if openErr != nil {
			logger.WithError(openErr).Warn("Opening file for writing failed")
			return []byte(msgWriteFailed), rdt.StatusInternalServerError
		}

		if err := writeAndClose(f, content); err != nil {
			logger.WithError(err).Warn("Overwriting file failed")
			return []byte(msgWriteFailed), rdt.StatusInternalServerError
		}

		logger.WithField("size", len(content)).Info("File was overwritten")
		return []byte(msgOverwritten), rdt.StatusOK

	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			logger.WithError(err).Warn("Creating parent directories failed")
			return []byte(msgWriteFailed), rdt.StatusInternalServerError
		}

		if err := os.WriteFile(target, content, 0644); err != nil {
			logger.WithError(err).Warn("Creating file failed")
			return []byte(msgWriteFailed), rdt.StatusInternalServerError
		}

		logger.WithField("size", len(content)).Info("File was created")
		return []byte(msgCreated), rdt.StatusOK

	default:
		logger.WithError(err).Warn("Stat of target file failed")
		return []byte(msgWriteFailed), rdt.StatusInternalServerError
	}
}

func writeAndClose(f *os.File, content []byte) error {
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ServeRDT implements rdt.Handler.
func (fsys *FileSystem) ServeRDT(req rdt.Request) rdt.Response {
	var body []byte
	var status string

	switch req.Method {
	case rdt.MethodGet:
		body, status = fsys.Get(req.Path)
	case rdt.MethodPost:
		body, status = fsys.Post(req.Path, req.Body)
	default:
		body, status = []byte(fmt.Sprintf("Unsupported method %s", req.Method)), rdt.StatusBadRequest
	}

	return rdt.Response{Status: status, Body: body}
}
