package mock

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	iofs "io/fs"
)

type MockFile struct {
	*bytes.Buffer
	ReadOnly bool
}

type mockDirEntry struct {
	name  string
	isDir bool
	typ   iofs.FileMode
	info  iofs.FileInfo
}

func (m *mockDirEntry) Name() string                 { return m.name }
func (m *mockDirEntry) IsDir() bool                  { return m.isDir }
func (m *mockDirEntry) Type() iofs.FileMode          { return m.typ }
func (m *mockDirEntry) Info() (iofs.FileInfo, error) { return m.info, nil }

type mockFileInfo struct {
	name    string
	mode    os.FileMode
	size    int64
	modTime time.Time
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() interface{}   { return nil }

func (m *MockFile) Write(p []byte) (n int, err error) {
	if m.ReadOnly {
		return 0, os.ErrPermission
	}
	return m.Buffer.Write(p)
}

// MockFileSystem implements the FileSystem interface for testing. Every write
// advances an internal clock by one second so modification times have a
// deterministic order; SetModTime overrides them for staleness scenarios.
type MockFileSystem struct {
	Files    map[string]*MockFile
	fileMode map[string]os.FileMode
	modTime  map[string]time.Time
	dirs     map[string]bool
	clock    time.Time
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:    make(map[string]*MockFile),
		fileMode: make(map[string]os.FileMode),
		modTime:  make(map[string]time.Time),
		dirs:     make(map[string]bool),
		clock:    time.Unix(1700000000, 0),
	}
}

func (m *MockFileSystem) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// SetModTime pins a file's modification time.
func (m *MockFileSystem) SetModTime(name string, t time.Time) {
	m.modTime[filepath.Clean(name)] = t
}

// ModTime reports the recorded modification time for a file.
func (m *MockFileSystem) ModTime(name string) time.Time {
	return m.modTime[filepath.Clean(name)]
}

func (m *MockFileSystem) isDir(name string) bool {
	name = filepath.Clean(name)
	if name == "." {
		return true
	}
	if m.dirs[name] {
		return true
	}
	prefix := name + string(filepath.Separator)
	for path := range m.Files {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for path := range m.dirs {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	filename = filepath.Clean(filename)
	if file, ok := m.Files[filename]; ok {
		if file.ReadOnly {
			return nil, os.ErrPermission
		}
		return file.Bytes(), nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	filename = filepath.Clean(filename)
	if file, ok := m.Files[filename]; ok && file.ReadOnly {
		return os.ErrPermission
	}
	m.Files[filename] = &MockFile{Buffer: bytes.NewBuffer(data)}
	m.fileMode[filename] = perm
	m.modTime[filename] = m.tick()

	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	path = filepath.Clean(path)
	for path != "." && path != string(filepath.Separator) {
		m.dirs[path] = true
		path = filepath.Dir(path)
	}
	return nil
}

func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	name = filepath.Clean(name)
	if file, ok := m.Files[name]; ok {
		return &mockFileInfo{
			name:    filepath.Base(name),
			mode:    m.fileMode[name],
			size:    int64(file.Len()),
			modTime: m.modTime[name],
		}, nil
	}
	if m.isDir(name) {
		return &mockFileInfo{
			name:    filepath.Base(name),
			mode:    os.ModeDir | 0755,
			modTime: m.modTime[name],
		}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	oldpath = filepath.Clean(oldpath)
	newpath = filepath.Clean(newpath)
	if data, ok := m.Files[oldpath]; ok {
		m.Files[newpath] = data
		m.fileMode[newpath] = m.fileMode[oldpath]
		m.modTime[newpath] = m.modTime[oldpath]
		delete(m.Files, oldpath)
		delete(m.fileMode, oldpath)
		delete(m.modTime, oldpath)
		return nil
	}
	if m.isDir(oldpath) {
		prefix := oldpath + string(filepath.Separator)
		for path, file := range m.Files {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			moved := filepath.Join(newpath, strings.TrimPrefix(path, prefix))
			m.Files[moved] = file
			m.fileMode[moved] = m.fileMode[path]
			m.modTime[moved] = m.modTime[path]
			delete(m.Files, path)
			delete(m.fileMode, path)
			delete(m.modTime, path)
		}
		delete(m.dirs, oldpath)
		m.dirs[newpath] = true
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) Remove(name string) error {
	name = filepath.Clean(name)
	if _, ok := m.Files[name]; ok {
		delete(m.Files, name)
		delete(m.fileMode, name)
		delete(m.modTime, name)
		return nil
	}
	if m.dirs[name] {
		delete(m.dirs, name)
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) RemoveAll(path string) error {
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	for p := range m.Files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.Files, p)
			delete(m.fileMode, p)
			delete(m.modTime, p)
		}
	}
	for d := range m.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *MockFileSystem) Chtimes(name string, atime, mtime time.Time) error {
	name = filepath.Clean(name)
	if _, ok := m.Files[name]; !ok {
		return os.ErrNotExist
	}
	m.modTime[name] = mtime
	return nil
}

func (m *MockFileSystem) WalkDir(root string, fn iofs.WalkDirFunc) error {
	root = filepath.Clean(root)
	if file, ok := m.Files[root]; ok {
		info := &mockFileInfo{
			name:    filepath.Base(root),
			mode:    m.fileMode[root],
			size:    int64(file.Len()),
			modTime: m.modTime[root],
		}
		return fn(root, &mockDirEntry{name: info.name, info: info}, nil)
	}
	if !m.isDir(root) {
		return fn(root, nil, os.ErrNotExist)
	}

	// collect every path under root, emit in lexical order with parents first
	prefix := root + string(filepath.Separator)
	if root == "." {
		prefix = ""
	}
	set := make(map[string]bool)
	for path := range m.Files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		set[path] = true
		for d := filepath.Dir(path); d != root && d != "." && strings.HasPrefix(d, prefix); d = filepath.Dir(d) {
			set[d] = true
		}
	}
	for path := range m.dirs {
		if strings.HasPrefix(path, prefix) {
			set[path] = true
		}
	}
	paths := make([]string, 0, len(set)+1)
	paths = append(paths, root)
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		var entry *mockDirEntry
		if file, ok := m.Files[path]; ok {
			info := &mockFileInfo{
				name:    filepath.Base(path),
				mode:    m.fileMode[path],
				size:    int64(file.Len()),
				modTime: m.modTime[path],
			}
			entry = &mockDirEntry{name: info.name, info: info}
		} else {
			info := &mockFileInfo{
				name:    filepath.Base(path),
				mode:    os.ModeDir | 0755,
				modTime: m.modTime[path],
			}
			entry = &mockDirEntry{name: info.name, isDir: true, typ: os.ModeDir, info: info}
		}
		if err := fn(path, entry, nil); err != nil {
			if err == iofs.SkipDir {
				continue
			}
			return err
		}
	}
	return nil
}
