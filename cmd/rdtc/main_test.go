// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// mockRequester serves GETs from a map and fails for unknown paths.
type mockRequester struct {
	mockPoster
	files map[string][]byte
}

func (m *mockRequester) Get(_ context.Context, path string) (rdt.Response, error) {
	if path == "/broken" {
		return rdt.Response{}, rdt.NewHandshakeError("server rejected the connection", rdt.UnexpectedPacket, nil)
	}
	if data, ok := m.files[path]; ok {
		return rdt.Response{Status: rdt.StatusOK, Body: data}, nil
	}
	return rdt.Response{Status: rdt.StatusNotFound, Body: []byte("File or folder not found")}, nil
}

func newMockRequester() *mockRequester {
	return &mockRequester{
		mockPoster: mockPoster{posts: make(map[string][]byte)},
		files:      map[string][]byte{"/hello": []byte("hello world")},
	}
}

func TestGetFile(t *testing.T) {
	client := newMockRequester()
	target := filepath.Join(t.TempDir(), "hello")

	if err := getFile(context.Background(), client, []string{"/hello", target}); err != nil {
		t.Fatal(err)
	}
	if data, err := os.ReadFile(target); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(data, client.files["/hello"]) {
		t.Fatalf("unexpected file content %q", data)
	}

	if err := getFile(context.Background(), client, []string{"/missing", target}); !errors.Is(err, errNotOK) {
		t.Fatalf("expected a failed request, got %v", err)
	}
	if exitCode(errNotOK) != 2 {
		t.Fatal("unsuccessful requests must exit with status 2")
	}

	err := getFile(context.Background(), client, []string{"/broken"})
	var hsErr *rdt.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected the wrapped HandshakeError, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatal("failed requests must exit with status 1")
	}
}

func TestPostFile(t *testing.T) {
	client := newMockRequester()
	source := filepath.Join(t.TempDir(), "upload")
	if err := os.WriteFile(source, []byte("payload"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := postFile(context.Background(), client, []string{"/upload", source}); err != nil {
		t.Fatal(err)
	}
	if data, calls := client.get("/upload"); calls != 1 || string(data) != "payload" {
		t.Fatalf("unexpected upload %q after %d calls", data, calls)
	}

	if err := postFile(context.Background(), client, []string{"/upload", filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatal("missing input file was accepted")
	}
}

func TestSubcommandUsage(t *testing.T) {
	client := newMockRequester()

	for _, err := range []error{
		getFile(context.Background(), client, nil),
		getFile(context.Background(), client, []string{"/a", "b", "c"}),
		postFile(context.Background(), client, []string{"/a"}),
		startWatch(context.Background(), client, nil),
		discoverServers([]string{"soon"}),
	} {
		if !errors.Is(err, errUsage) {
			t.Fatalf("expected a usage error, got %v", err)
		}
	}

	if exitCode(nil) != 0 || exitCode(errUsage) != 1 {
		t.Fatal("unexpected exit status")
	}
}
