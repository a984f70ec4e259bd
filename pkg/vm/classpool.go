package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// ErrClassNotFound is returned when no source provides a class.
var ErrClassNotFound = errors.New("class not found")

// Source provides parsed classes by internal name. Implementations must be
// safe for concurrent use; a pool shared by several engines calls them from
// several goroutines.
type Source interface {
	LoadClass(name string) (*classfile.ClassFile, error)
	Close() error
}

// Lister is implemented by sources that can enumerate their classes.
type Lister interface {
	ClassNames() ([]string, error)
}

// JmodSource loads classes from a JDK jmod file. Parsed classes are kept in
// a bounded LRU cache.
type JmodSource struct {
	JmodPath string

	once    sync.Once
	openErr error
	files   map[string]*zip.File
	cache   *lru.Cache
}

// DefaultJmodCacheSize bounds the number of parsed JDK classes kept alive.
const DefaultJmodCacheSize = 2048

// FindJavaBaseJmod locates java.base.jmod: JAVA_BASE_JMOD first, then
// $JAVA_HOME/jmods, then the usual Linux package locations. It returns ""
// when nothing is found.
func FindJavaBaseJmod() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// NewJmodSource creates a JmodSource; the file is opened on first use.
func NewJmodSource(jmodPath string, cacheSize int) *JmodSource {
	if cacheSize <= 0 {
		cacheSize = DefaultJmodCacheSize
	}
	cache, _ := lru.New(cacheSize)
	return &JmodSource{JmodPath: jmodPath, cache: cache}
}

func (s *JmodSource) open() error {
	s.once.Do(func() {
		data, err := os.ReadFile(s.JmodPath)
		if err != nil {
			s.openErr = fmt.Errorf("jmod: reading %s: %w", s.JmodPath, err)
			return
		}
		if len(data) < 4 || !bytes.Equal(data[:2], []byte("JM")) {
			s.openErr = fmt.Errorf("jmod: %s: missing JM header", s.JmodPath)
			return
		}
		zipData := data[4:] // Skip "JM\x01\x00" header
		zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
		if err != nil {
			s.openErr = fmt.Errorf("jmod: opening zip: %w", err)
			return
		}
		s.files = make(map[string]*zip.File, len(zr.File))
		for _, f := range zr.File {
			if name, ok := strings.CutPrefix(f.Name, "classes/"); ok && strings.HasSuffix(name, ".class") {
				s.files[strings.TrimSuffix(name, ".class")] = f
			}
		}
		Logger().Debug("jmod opened", zap.String("path", s.JmodPath), zap.Int("classes", len(s.files)))
	})
	return s.openErr
}

func (s *JmodSource) LoadClass(name string) (*classfile.ClassFile, error) {
	if v, ok := s.cache.Get(name); ok {
		return v.(*classfile.ClassFile), nil
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("jmod: %w: %s", ErrClassNotFound, name)
	}
	cf, err := parseZipEntry(f)
	if err != nil {
		return nil, fmt.Errorf("jmod: parsing %s: %w", name, err)
	}
	s.cache.Add(name, cf)
	return cf, nil
}

// ClassNames lists the classes of the jmod, sorted.
func (s *JmodSource) ClassNames() ([]string, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *JmodSource) Close() error {
	s.cache.Purge()
	return nil
}

func parseZipEntry(f *zip.File) (*classfile.ClassFile, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return classfile.Parse(rc)
}

// DirSource loads classes from a directory tree laid out by package.
type DirSource struct {
	ClassPath string

	mu    sync.Mutex
	cache map[string]*classfile.ClassFile
}

// NewDirSource creates a DirSource rooted at classPath.
func NewDirSource(classPath string) *DirSource {
	return &DirSource{ClassPath: classPath, cache: make(map[string]*classfile.ClassFile)}
}

func (s *DirSource) LoadClass(name string) (*classfile.ClassFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cf, ok := s.cache[name]; ok {
		return cf, nil
	}
	path := filepath.Join(s.ClassPath, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("dir: %w: %s", ErrClassNotFound, name)
		}
		return nil, fmt.Errorf("dir: class %s: %w", name, err)
	}
	s.cache[name] = cf
	return cf, nil
}

// ClassNames lists every .class file under the directory.
func (s *DirSource) ClassNames() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.ClassPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(s.ClassPath, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".class"))
		return nil
	})
	return names, err
}

func (s *DirSource) Close() error { return nil }

// JarSource loads classes from a jar or zip archive.
type JarSource struct {
	Path string

	once    sync.Once
	openErr error
	rc      *zip.ReadCloser
	files   map[string]*zip.File
	mu      sync.Mutex
	cache   map[string]*classfile.ClassFile
}

// NewJarSource creates a JarSource; the archive is opened on first use.
func NewJarSource(path string) *JarSource {
	return &JarSource{Path: path, cache: make(map[string]*classfile.ClassFile)}
}

func (s *JarSource) open() error {
	s.once.Do(func() {
		rc, err := zip.OpenReader(s.Path)
		if err != nil {
			s.openErr = fmt.Errorf("jar: opening %s: %w", s.Path, err)
			return
		}
		s.rc = rc
		s.files = make(map[string]*zip.File)
		for _, f := range rc.File {
			if strings.HasSuffix(f.Name, ".class") && !strings.HasPrefix(f.Name, "META-INF/") {
				s.files[strings.TrimSuffix(f.Name, ".class")] = f
			}
		}
	})
	return s.openErr
}

func (s *JarSource) LoadClass(name string) (*classfile.ClassFile, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cf, ok := s.cache[name]; ok {
		return cf, nil
	}
	f, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("jar: %w: %s", ErrClassNotFound, name)
	}
	cf, err := parseZipEntry(f)
	if err != nil {
		return nil, fmt.Errorf("jar: parsing %s: %w", name, err)
	}
	s.cache[name] = cf
	return cf, nil
}

func (s *JarSource) ClassNames() ([]string, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names, nil
}

func (s *JarSource) Close() error {
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}

// ClassPool is the shared, read-only class model that resolvers look
// classes up in. Classes defined directly take precedence over sources,
// which are searched in order; built-in stubs are searched last. A pool is
// reference counted: NewClassPool returns it with one reference, every
// resolver holds another, and sources are closed when the count drops to
// zero.
type ClassPool struct {
	mu      sync.RWMutex
	defined map[string]*classfile.ClassFile
	sources []Source
	refs    int
}

// NewClassPool creates a pool over sources followed by the built-in stubs.
func NewClassPool(sources ...Source) *ClassPool {
	return &ClassPool{
		defined: make(map[string]*classfile.ClassFile),
		sources: append(append([]Source(nil), sources...), builtins),
		refs:    1,
	}
}

// Define adds a parsed class and returns its name.
func (p *ClassPool) Define(cf *classfile.ClassFile) (string, error) {
	name, err := cf.ClassName()
	if err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	p.mu.Lock()
	p.defined[name] = cf
	p.mu.Unlock()
	return name, nil
}

// DefineBytes parses and defines a class file.
func (p *ClassPool) DefineBytes(data []byte) (string, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	return p.Define(cf)
}

// LoadClass finds a class by internal name.
func (p *ClassPool) LoadClass(name string) (*classfile.ClassFile, error) {
	p.mu.RLock()
	cf, ok := p.defined[name]
	sources := p.sources
	p.mu.RUnlock()
	if ok {
		return cf, nil
	}
	for _, s := range sources {
		cf, err := s.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// Defined returns the names of directly defined classes, sorted.
func (p *ClassPool) Defined() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.defined))
	for name := range p.defined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classes returns defined classes plus every class of listable sources,
// sorted and without duplicates. JDK and built-in classes are not listed.
func (p *ClassPool) Classes() ([]string, error) {
	seen := make(map[string]bool)
	for _, name := range p.Defined() {
		seen[name] = true
	}
	p.mu.RLock()
	sources := p.sources
	p.mu.RUnlock()
	for _, s := range sources {
		if _, jdk := s.(*JmodSource); jdk {
			continue
		}
		l, ok := s.(Lister)
		if !ok {
			continue
		}
		names, err := l.ClassNames()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Retain adds a reference.
func (p *ClassPool) Retain() *ClassPool {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
	return p
}

// Release drops a reference and closes the sources with the last one.
func (p *ClassPool) Release() error {
	p.mu.Lock()
	p.refs--
	if p.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	sources := p.sources
	p.sources = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sources {
		if s == builtins {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
