// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

type mockPoster struct {
	sync.Mutex
	posts map[string][]byte
	calls int
}

func (m *mockPoster) Post(_ context.Context, path string, body []byte) (rdt.Response, error) {
	m.Lock()
	defer m.Unlock()

	m.posts[path] = body
	m.calls++
	return rdt.Response{Status: rdt.StatusOK, Body: []byte("File is created.")}, nil
}

func (m *mockPoster) get(path string) ([]byte, int) {
	m.Lock()
	defer m.Unlock()

	return m.posts[path], m.calls
}

func TestWatchRemotePath(t *testing.T) {
	w := &watch{directory: "/home/user/outbox", prefix: "/inbox"}

	tests := []struct {
		file   string
		remote string
	}{
		{"/home/user/outbox/a.txt", "/inbox/a.txt"},
		{"/home/user/outbox/sub/b.txt", "/inbox/sub/b.txt"},
	}

	for _, test := range tests {
		if remote, err := w.remotePath(test.file); err != nil {
			t.Fatal(err)
		} else if remote != test.remote {
			t.Fatalf("%s: expected %s, got %s", test.file, test.remote, remote)
		}
	}
}

func TestWatchUpload(t *testing.T) {
	dir := t.TempDir()
	client := &mockPoster{posts: make(map[string][]byte)}

	w, err := newWatch(dir, "up", client)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if body, _ := client.get("/up/note.txt"); string(body) == "hello world" {
			break
		} else if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	if _, calls := client.get("/up/note.txt"); calls != 1 {
		t.Fatalf("expected one upload, got %d", calls)
	}
}

func TestWatchSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "same.txt")
	if err := os.WriteFile(file, []byte("same"), 0644); err != nil {
		t.Fatal(err)
	}

	client := &mockPoster{posts: make(map[string][]byte)}
	w := &watch{
		directory: dir,
		prefix:    "/",
		client:    client,
		pending:   make(map[string]time.Time),
		uploaded:  make(map[string]uint16),
	}

	w.upload(context.Background(), file)
	w.upload(context.Background(), file)

	if _, calls := client.get("/same.txt"); calls != 1 {
		t.Fatalf("expected one upload, got %d", calls)
	}
}
