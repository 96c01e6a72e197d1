// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package archive

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/DCSO/dropwatch/parsers"
	"github.com/DCSO/dropwatch/records"
)

// Layout describes how devices are arranged in a drop.
type Layout string

// Known layouts.
const (
	LayoutSingle Layout = "single"
	LayoutFlat   Layout = "flat"
	LayoutNested Layout = "nested"
	// LayoutEmpty is a drop without a single valid member.
	LayoutEmpty  Layout = "empty"
)

var driveLetterReg = regexp.MustCompile(`^[a-zA-Z]:`)

// Analysis is the structural view of a drop.
type Analysis struct {
	ArchiveName string
	Layout      Layout
	// Roots are the device root directories; "" is the archive root.
	Roots []string
	// Entries are the valid members with sanitized names.
	Entries []Entry
	// Malformed lists names rejected as unsafe or empty.
	Malformed []string
	// Unassigned lists members outside every device root.
	Unassigned []string
}

// SanitizeName converts an archive member name into a clean relative slash
// path. It returns false for absolute paths, drive letters, parent
// references and empty names.
func SanitizeName(name string) (string, bool) {
	n := strings.ReplaceAll(name, "\\", "/")
	if n == "" || strings.HasPrefix(n, "/") || driveLetterReg.MatchString(n) {
		return "", false
	}
	for _, part := range strings.Split(n, "/") {
		if part == ".." {
			return "", false
		}
	}
	n = path.Clean(n)
	if n == "." || n == "" {
		return "", false
	}
	return n, true
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func under(p, root string) bool {
	return root == "" || p == root || strings.HasPrefix(p, root+"/")
}

// Analyze determines the device roots of a drop from its member list.
// Device roots are the shallowest directories directly holding a marker
// file such as Passwords.txt or System.txt. When all marked roots are
// top-level directories, the remaining top-level directories are devices as
// well. Without markers, every top-level directory is a device; without
// directories the whole archive is a single device. A drop without valid
// members has no device at all.
func Analyze(entries []Entry, archiveName string) Analysis {
	a := Analysis{ArchiveName: archiveName}
	for _, e := range entries {
		n, ok := SanitizeName(e.Name)
		if !ok {
			a.Malformed = append(a.Malformed, e.Name)
			continue
		}
		e.Name = n
		a.Entries = append(a.Entries, e)
	}

	candidates := make(map[string]bool)
	for _, e := range a.Entries {
		if e.IsDir || !parsers.IsMarkerFile(e.Name) {
			continue
		}
		dir := path.Dir(e.Name)
		if dir == "." {
			dir = ""
		}
		candidates[dir] = true
	}

	var roots []string
	for c := range candidates {
		shallowest := true
		for o := range candidates {
			if o != c && depth(o) < depth(c) && under(c, o) {
				shallowest = false
				break
			}
		}
		if shallowest {
			roots = append(roots, c)
		}
	}

	top := topLevelDirs(a.Entries)
	if len(roots) == 0 {
		roots = top
	} else if allTopLevel(roots) {
		// device folders without a marker file next to marked ones
		covered := make(map[string]bool, len(roots))
		for _, r := range roots {
			covered[r] = true
		}
		for _, t := range top {
			if !covered[t] {
				roots = append(roots, t)
			}
		}
	}
	if len(roots) == 0 && len(a.Entries) > 0 {
		roots = []string{""}
	}
	sort.Strings(roots)
	a.Roots = roots

	nested := false
	for _, r := range roots {
		if depth(r) > 1 {
			nested = true
		}
	}
	switch {
	case len(roots) == 0:
		a.Layout = LayoutEmpty
	case len(roots) == 1:
		a.Layout = LayoutSingle
	case nested:
		a.Layout = LayoutNested
	default:
		a.Layout = LayoutFlat
	}

	for _, e := range a.Entries {
		if !e.IsDir && rootOf(e.Name, roots) < 0 {
			a.Unassigned = append(a.Unassigned, e.Name)
		}
	}
	return a
}

func topLevelDirs(entries []Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		t := ""
		if i := strings.Index(e.Name, "/"); i >= 0 {
			t = e.Name[:i]
		} else if e.IsDir {
			t = e.Name
		}
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func allTopLevel(roots []string) bool {
	for _, r := range roots {
		if depth(r) != 1 {
			return false
		}
	}
	return true
}

// rootOf returns the index of the longest root containing p, or -1.
func rootOf(p string, roots []string) int {
	best := -1
	for i, r := range roots {
		if under(p, r) && p != r && (best < 0 || len(r) > len(roots[best])) {
			best = i
		}
	}
	return best
}

// DeviceName returns the display name of a device root.
func (a Analysis) DeviceName(root string) string {
	if root == "" {
		return ArchiveStem(a.ArchiveName)
	}
	return path.Base(root)
}

// ArchiveStem strips directory and archive extension from a file name.
func ArchiveStem(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	lower := strings.ToLower(base)
	for _, ext := range []string{".tar.gz", ".zip", ".rar", ".7z", ".tgz", ".tar"} {
		if strings.HasSuffix(lower, ext) && len(base) > len(ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// DeviceEntry is a member of a device group with its path relative to the
// device root.
type DeviceEntry struct {
	Path  string
	Entry Entry
	// Implied is set for parent directories not present in the archive.
	Implied bool
}

// DeviceGroup is the set of members belonging to one device.
type DeviceGroup struct {
	Name    string
	Hash    string
	Roots   []string
	Entries []DeviceEntry
}

// Files returns the non-directory entries.
func (g DeviceGroup) Files() []DeviceEntry {
	var out []DeviceEntry
	for _, e := range g.Entries {
		if !e.Entry.IsDir {
			out = append(out, e)
		}
	}
	return out
}

// GroupByDevice assigns every analysed member to its device. Roots whose
// names normalize to the same device hash are merged into one group, the
// first root's display name wins. Entries are ordered by relative path and
// parent directories missing from the archive are synthesized.
func GroupByDevice(a Analysis) []DeviceGroup {
	var groups []*DeviceGroup
	byHash := make(map[string]*DeviceGroup)
	rootGroup := make([]*DeviceGroup, len(a.Roots))
	for i, r := range a.Roots {
		name := a.DeviceName(r)
		h := records.DeviceHash(name)
		g, ok := byHash[h]
		if !ok {
			g = &DeviceGroup{Name: name, Hash: h}
			byHash[h] = g
			groups = append(groups, g)
		}
		g.Roots = append(g.Roots, r)
		rootGroup[i] = g
	}

	seen := make(map[*DeviceGroup]map[string]bool)
	add := func(g *DeviceGroup, de DeviceEntry) {
		if seen[g] == nil {
			seen[g] = make(map[string]bool)
		}
		if seen[g][de.Path] {
			return
		}
		seen[g][de.Path] = true
		g.Entries = append(g.Entries, de)
	}

	for _, e := range a.Entries {
		idx := rootOf(e.Name, a.Roots)
		if idx < 0 {
			continue
		}
		r := a.Roots[idx]
		rel := e.Name
		if r != "" {
			rel = strings.TrimPrefix(e.Name, r+"/")
		}
		add(rootGroup[idx], DeviceEntry{Path: rel, Entry: e})
	}

	out := make([]DeviceGroup, 0, len(groups))
	for _, g := range groups {
		dirs := make(map[string]bool)
		for _, de := range g.Entries {
			if de.Entry.IsDir {
				dirs[de.Path] = true
			}
		}
		for _, de := range g.Entries {
			for d := path.Dir(de.Path); d != "." && !dirs[d]; d = path.Dir(d) {
				dirs[d] = true
				add(g, DeviceEntry{
					Path:    d,
					Entry:   Entry{Name: d, IsDir: true, index: -1},
					Implied: true,
				})
			}
		}
		sort.SliceStable(g.Entries, func(i, j int) bool {
			return g.Entries[i].Path < g.Entries[j].Path
		})
		out = append(out, *g)
	}
	return out
}
