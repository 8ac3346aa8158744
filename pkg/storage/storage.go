// Package storage provides the resource store backed by LittleFS.
// Resource blobs (bitmaps and the like) and the app config record live in
// flash. It handles atomic writes, version checking, and cleanup of temporary
// files.
package storage

import (
	"errors"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/tuffrabit/tinygo-activator/pkg/config"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"
)

const (
	configDir      = "/config"
	resourcesDir   = "/resources"
	configFile     = "/config/app.bin"
	tempSuffix     = ".tmp"
	resourceSuffix = ".bin"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrConfigNotFound   = errors.New("config not found")
	ErrInvalidConfig    = errors.New("invalid config data")
	ErrFlashFull        = errors.New("insufficient flash space")
)

// Manager handles resource persistence using LittleFS.
type Manager struct {
	fs       *littlefs.LFS
	blockDev tinyfs.BlockDevice
	mounted  bool
}

// Stats provides information about storage usage.
type Stats struct {
	TotalSpace    int64
	UsedSpace     int64
	FreeSpace     int64
	ResourceCount int
}

// New initializes the storage system with the given block device.
// It mounts the filesystem and performs boot-time cleanup.
// If format is true and mount fails, it will format the filesystem.
func New(blockDev tinyfs.BlockDevice, format bool) (*Manager, error) {
	lfs := littlefs.New(blockDev)

	// Conservative settings for RP2040 flash
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 128,
	})

	err := lfs.Mount()
	if err != nil {
		if !format {
			return nil, err
		}
		if err := lfs.Format(); err != nil {
			return nil, err
		}
		if err := lfs.Mount(); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		fs:       lfs,
		blockDev: blockDev,
		mounted:  true,
	}

	// Leftover temp files are harmless; a failed cleanup is retried next boot.
	_ = m.bootCleanup()

	needsWipe, err := m.checkVersion()
	if err != nil {
		needsWipe = false
	}

	if needsWipe {
		// Resources are reinstalled from the host tool after a format change.
		if err := m.wipeAll(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Close unmounts the filesystem.
func (m *Manager) Close() error {
	if m.mounted {
		m.mounted = false
		return m.fs.Unmount()
	}
	return nil
}

// bootCleanup removes temporary files left over from interrupted writes.
func (m *Manager) bootCleanup() error {
	for _, dir := range []string{configDir, resourcesDir} {
		entries, err := m.readDir(dir)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return err
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasSuffix(name, tempSuffix) {
				m.fs.Remove(path.Join(dir, name))
			}
		}
	}
	return nil
}

// readDir reads the directory entries at the given path.
func (m *Manager) readDir(dirPath string) ([]os.FileInfo, error) {
	f, err := m.fs.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.IsDir() {
		return nil, errors.New("not a directory")
	}

	return f.Readdir(-1)
}

// checkVersion reads the config record and checks if its version matches.
// Returns true if everything should be wiped (version mismatch).
func (m *Manager) checkVersion() (bool, error) {
	var cfg config.AppConfig
	if err := m.LoadConfig(&cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			// First boot
			return false, nil
		}
		return false, err
	}

	return cfg.Version != config.CurrentVersion, nil
}

// wipeAll removes the config record and every resource.
func (m *Manager) wipeAll() error {
	ids, err := m.ListResources()
	if err == nil {
		for _, id := range ids {
			m.DeleteResource(id)
		}
	}

	m.fs.Remove(configFile)

	return nil
}

// ensureDirs creates the storage directories if they don't exist.
func (m *Manager) ensureDirs() error {
	if err := m.fs.Mkdir(configDir, 0755); err != nil && !isExist(err) {
		return err
	}
	if err := m.fs.Mkdir(resourcesDir, 0755); err != nil && !isExist(err) {
		return err
	}
	return nil
}

// isExist checks if an error is "already exists".
// LittleFS errors don't always match os.IsExist, so we check the message too.
func isExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

// isNotExist is the "not found" counterpart of isExist.
func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "No directory entry")
}

// LoadConfig loads the app config record.
func (m *Manager) LoadConfig(cfg *config.AppConfig) error {
	f, err := m.fs.Open(configFile)
	if err != nil {
		if isNotExist(err) {
			return ErrConfigNotFound
		}
		return err
	}
	defer f.Close()

	buf := make([]byte, config.Size)
	n, err := readFull(f, buf)
	if err != nil {
		return err
	}
	if n != config.Size {
		return ErrInvalidConfig
	}

	return cfg.UnmarshalBinary(buf)
}

// SaveConfig saves the app config record atomically.
func (m *Manager) SaveConfig(cfg *config.AppConfig) error {
	if err := m.ensureDirs(); err != nil {
		return err
	}

	cfg.Version = config.CurrentVersion

	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}

	return m.atomicWrite(configFile, data)
}

// LoadResource reads the resource blob with the given id into buf.
// Blobs larger than buf are silently truncated; the returned count is the
// number of bytes copied.
func (m *Manager) LoadResource(id uint32, buf []byte) (int, error) {
	f, err := m.fs.Open(m.resourcePath(id))
	if err != nil {
		if isNotExist(err) {
			return 0, ErrResourceNotFound
		}
		return 0, err
	}
	defer f.Close()

	// littlefs passes the read buffer to C, which rejects memory inside an
	// object that also holds Go pointers. buf is caller-owned, so read into
	// a separate allocation.
	scratch := make([]byte, len(buf))
	n, err := readFull(f, scratch)
	copy(buf, scratch[:n])
	return n, err
}

// SaveResource stores a resource blob atomically.
func (m *Manager) SaveResource(id uint32, data []byte) error {
	if err := m.ensureDirs(); err != nil {
		return err
	}
	return m.atomicWrite(m.resourcePath(id), data)
}

// DeleteResource removes a resource blob.
func (m *Manager) DeleteResource(id uint32) error {
	return m.fs.Remove(m.resourcePath(id))
}

// ResourceExists checks if a resource with the given id is stored.
func (m *Manager) ResourceExists(id uint32) bool {
	f, err := m.fs.Open(m.resourcePath(id))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// ListResources returns the ids of all stored resources.
func (m *Manager) ListResources() ([]uint32, error) {
	entries, err := m.readDir(resourcesDir)
	if err != nil {
		if isNotExist(err) {
			return []uint32{}, nil
		}
		return nil, err
	}

	var ids []uint32
	for _, entry := range entries {
		name := entry.Name()
		// Parse "N.bin" format
		if !strings.HasSuffix(name, resourceSuffix) {
			continue
		}

		numStr := strings.TrimSuffix(name, resourceSuffix)
		if id, err := strconv.ParseUint(numStr, 10, 32); err == nil {
			ids = append(ids, uint32(id))
		}
	}

	return ids, nil
}

// GetStats returns storage statistics.
func (m *Manager) GetStats() (*Stats, error) {
	ids, err := m.ListResources()
	if err != nil {
		return nil, err
	}

	// LittleFS has no free space call; estimate from file sizes plus
	// ~32 bytes of metadata per file.
	used := int64(config.Size + 32 + 100)
	for _, id := range ids {
		used += m.resourceSize(id) + 32
	}

	total := m.blockDev.Size()

	return &Stats{
		TotalSpace:    total,
		UsedSpace:     used,
		FreeSpace:     total - used,
		ResourceCount: len(ids),
	}, nil
}

// CanFit estimates if a blob of size bytes can be stored.
// This is a conservative estimate.
func (m *Manager) CanFit(size int) bool {
	stats, err := m.GetStats()
	if err != nil {
		return false
	}
	return stats.FreeSpace > int64(size)+512
}

// resourceSize returns the stored size of a resource, or 0.
func (m *Manager) resourceSize(id uint32) int64 {
	f, err := m.fs.Open(m.resourcePath(id))
	if err != nil {
		return 0
	}
	defer f.Close()

	var size int64
	buf := make([]byte, 256)
	for {
		n, err := f.Read(buf)
		size += int64(n)
		if err != nil || n == 0 {
			return size
		}
	}
}

// resourcePath returns the filesystem path for a resource id.
func (m *Manager) resourcePath(id uint32) string {
	return path.Join(resourcesDir, strconv.FormatUint(uint64(id), 10)+resourceSuffix)
}

// atomicWrite writes data to a temporary file, syncs it, then renames.
// The original file is never in a partially written state.
func (m *Manager) atomicWrite(filepath string, data []byte) error {
	tempPath := filepath + tempSuffix

	// Remove temp file if it exists (from interrupted previous write)
	m.fs.Remove(tempPath)

	f, err := m.fs.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		m.fs.Remove(tempPath)
		if strings.Contains(err.Error(), "No space") {
			return ErrFlashFull
		}
		return err
	}

	// Sync ensures data hits flash
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			m.fs.Remove(tempPath)
			return err
		}
	}

	if err := f.Close(); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	// LittleFS rename doesn't replace
	m.fs.Remove(filepath)

	if err := m.fs.Rename(tempPath, filepath); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	return nil
}

// ForceWipe erases the config record and all resources.
func (m *Manager) ForceWipe() error {
	return m.wipeAll()
}

// readFull reads until buf is full or the file ends.
func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}
