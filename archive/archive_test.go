// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package archive

import (
	"io"
	"testing"

	"github.com/DCSO/dropwatch/records"
	"github.com/DCSO/dropwatch/util"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(names ...string) []Entry {
	var out []Entry
	for _, n := range names {
		isDir := len(n) > 0 && n[len(n)-1] == '/'
		out = append(out, Entry{Name: n, IsDir: isDir, index: -1})
	}
	return out
}

func TestSanitizeName(t *testing.T) {
	valid := map[string]string{
		"a/b.txt":        "a/b.txt",
		"a\\b\\c.txt":    "a/b/c.txt",
		"./a//b.txt":     "a/b.txt",
		"dir/":           "dir",
		"DESKTOP [US]/x": "DESKTOP [US]/x",
	}
	for in, want := range valid {
		got, ok := SanitizeName(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "/etc/passwd", "C:\\Windows\\x", "a/../../b", "..\\evil.txt", "."} {
		_, ok := SanitizeName(in)
		assert.False(t, ok, in)
	}
}

func TestAnalyzeFlat(t *testing.T) {
	a := Analyze(entries(
		"PC1/", "PC1/Passwords.txt", "PC1/Browsers/Chrome/Cookies.txt",
		"PC2/System.txt", "PC2/Browsers/Edge/Passwords.txt",
		"readme.txt", "../escape.txt",
	), "logs.zip")
	assert.Equal(t, LayoutFlat, a.Layout)
	assert.Equal(t, []string{"PC1", "PC2"}, a.Roots)
	assert.Equal(t, []string{"../escape.txt"}, a.Malformed)
	assert.Equal(t, []string{"readme.txt"}, a.Unassigned)
}

func TestAnalyzeNested(t *testing.T) {
	a := Analyze(entries(
		"pack/US/PC1/Passwords.txt", "pack/DE/PC2/Information.txt",
		"pack/DE/PC2/Passwords.txt",
	), "pack.zip")
	assert.Equal(t, LayoutNested, a.Layout)
	assert.Equal(t, []string{"pack/DE/PC2", "pack/US/PC1"}, a.Roots)
}

func TestAnalyzeSingle(t *testing.T) {
	a := Analyze(entries("Passwords.txt", "Browsers/Chrome/Passwords.txt", "Screenshot.jpg"), "DESKTOP-9.zip")
	assert.Equal(t, LayoutSingle, a.Layout)
	assert.Equal(t, []string{""}, a.Roots)
	assert.Equal(t, "DESKTOP-9", a.DeviceName(""))

	a = Analyze(entries("a.txt", "b.txt"), "drop.rar")
	assert.Equal(t, []string{""}, a.Roots)
	assert.Equal(t, "drop", a.DeviceName(""))
}

func TestAnalyzeFallbackTopLevel(t *testing.T) {
	a := Analyze(entries("HostA/cookies.txt", "HostB/", "HostB/x/y.txt"), "x.zip")
	assert.Equal(t, []string{"HostA", "HostB"}, a.Roots)
	assert.Equal(t, LayoutFlat, a.Layout)
}

func TestAnalyzeUnmarkedSibling(t *testing.T) {
	a := Analyze(entries(
		"PC-A/System.txt", "PC-A/Passwords.txt",
		"PC-B/Wallets/seed.txt", "PC-B/Browsers/Chrome/Logins.txt",
		"notes.txt",
	), "logs.zip")
	assert.Equal(t, LayoutFlat, a.Layout)
	assert.Equal(t, []string{"PC-A", "PC-B"}, a.Roots)
	assert.Equal(t, []string{"notes.txt"}, a.Unassigned)

	groups := GroupByDevice(a)
	require.Len(t, groups, 2)
	assert.Equal(t, "PC-B", groups[1].Name)
	assert.Len(t, groups[1].Files(), 2)
}

func TestAnalyzeNoValidEntries(t *testing.T) {
	a := Analyze(nil, "empty.zip")
	assert.Equal(t, LayoutEmpty, a.Layout)
	assert.Empty(t, a.Roots)
	assert.Empty(t, GroupByDevice(a))

	a = Analyze(entries("../evil/Passwords.txt", "/etc/System.txt"), "evil.zip")
	assert.Equal(t, LayoutEmpty, a.Layout)
	assert.Len(t, a.Malformed, 2)
	assert.Empty(t, GroupByDevice(a))
}

func TestGroupByDevice(t *testing.T) {
	a := Analyze(entries(
		"Desktop-1/Passwords.txt", "Desktop-1/Browsers/Chrome/Cookies.txt",
		"desktop-1 /System.txt",
		"PC2/Passwords.txt",
	), "logs.zip")
	groups := GroupByDevice(a)
	require.Len(t, groups, 2)

	g := groups[0]
	assert.Equal(t, "Desktop-1", g.Name)
	assert.Equal(t, records.DeviceHash("desktop-1"), g.Hash)
	assert.Len(t, g.Roots, 2)
	var paths []string
	for _, e := range g.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"Browsers", "Browsers/Chrome", "Browsers/Chrome/Cookies.txt", "Passwords.txt", "System.txt"}, paths)
	assert.True(t, g.Entries[0].Implied)
	assert.Len(t, g.Files(), 3)

	assert.Equal(t, "PC2", groups[1].Name)
}

func TestOpenZip(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := append(util.SingleDevice("PC1", "PC1"), util.DropFile{Name: "PC1/Browsers", Dir: true})
	require.NoError(t, util.CreateDropZip(fs, "/drop.zip", files))

	src, err := OpenZip(fs, "/drop.zip")
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "drop.zip", src.Name())
	require.Len(t, src.Entries(), 3)
	assert.True(t, src.Entries()[2].IsDir)

	rc, err := src.Open(src.Entries()[0])
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Contains(t, string(data), "Computer Name: PC1")

	data, complete, err := ReadEntry(src, src.Entries()[0], 5)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "Compu", string(data))

	assert.False(t, IsEncryptedZip(fs, "/drop.zip"))
}

func TestOpenZipEncrypted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, util.CreateDropZip(fs, "/locked.zip", []util.DropFile{
		{Name: "PC1", Dir: true},
		{Name: "PC1/Passwords.txt", Content: "x", Encrypted: true},
	}))
	_, err := OpenZip(fs, "/locked.zip")
	assert.ErrorIs(t, err, ErrEncrypted)
	assert.True(t, IsEncryptedZip(fs, "/locked.zip"))
}

func TestOpenZipCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.zip", []byte("this is not a zip"), 0644))
	_, err := OpenZip(fs, "/bad.zip")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, IsEncryptedZip(fs, "/bad.zip"))
}

func TestOpenDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/x/PC1/Passwords.txt", []byte("URL: a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/x/PC1/System.txt", []byte("IP: 1.2.3.4"), 0644))
	src, err := OpenDir(fs, "/x", "drop.rar")
	require.NoError(t, err)
	var names []string
	for _, e := range src.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"PC1", "PC1/Passwords.txt", "PC1/System.txt"}, names)
	data, complete, err := ReadEntry(src, src.Entries()[2], 100)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, "IP: 1.2.3.4", string(data))

	groups := GroupByDevice(Analyze(src.Entries(), src.Name()))
	require.Len(t, groups, 1)
	assert.Equal(t, "PC1", groups[0].Name)
}
