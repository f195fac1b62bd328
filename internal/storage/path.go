package storage

import (
	"path/filepath"
	"strings"
)

// TempPrefix is the key prefix for uploads that have not been committed yet.
const TempPrefix = "tmp/"

// PathConfig holds configuration for storage path generation.
type PathConfig struct {
	// BasePath is the root directory for blob storage.
	BasePath string

	// ShardLevels is the number of directory levels for sharding.
	// Default: 2 (e.g., /ab/cd/abcdef...)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	// Default: 2 (e.g., ab, cd)
	ShardWidth int
}

// DefaultPathConfig returns the default path configuration.
func DefaultPathConfig(basePath string) PathConfig {
	return PathConfig{
		BasePath:    basePath,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ValidateKey rejects keys that are empty, absolute or climb out of the store root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// CheckKey applies ValidateKey and, when sharding is enabled, rejects keys
// whose last segment is shorter than ShardLevels*ShardWidth. Such a name is
// stored unsharded and would occupy the path of a sibling's shard directory
// ("users/1/ab" against "users/1/ab/cd/abcdef").
func (c PathConfig) CheckKey(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if c.ShardLevels <= 0 || c.ShardWidth <= 0 {
		return nil
	}
	if _, name := splitKey(key); len(name) < c.ShardLevels*c.ShardWidth {
		return ErrInvalidKey
	}
	return nil
}

// TempKey returns the staging key for an upload identified by id.
func TempKey(id string) string {
	return TempPrefix + id
}

// BlobKey returns the committed key for a user's blob.
//
// Example:
//
//	userID: "42", id: "9f1c..."
//	result: "users/42/9f1c..."
func BlobKey(userID, id string) string {
	return "users/" + userID + "/" + id
}

// ComputePath generates the filesystem path for a storage key.
// The last key segment is sharded to spread files across directories.
// Names too short to shard are placed unsharded; callers that mix such
// names with sharded ones should gate keys through CheckKey.
//
// Example with default config (2 levels, 2 chars each):
//
//	key: "users/42/abcdef1234"
//	basePath: "/data"
//	result: "/data/users/42/ab/cd/abcdef1234"
func ComputePath(config PathConfig, key string) string {
	dir, name := splitKey(key)

	components := make([]string, 0, config.ShardLevels+3)
	components = append(components, config.BasePath)
	if dir != "" {
		components = append(components, filepath.FromSlash(dir))
	}
	components = append(components, GetShardDirs(config, name)...)
	components = append(components, name)

	return filepath.Join(components...)
}

// GetShardDirs returns the shard directory components for a name.
//
// Example:
//
//	name: "abcdef..."
//	result: ["ab", "cd"]
func GetShardDirs(config PathConfig, name string) []string {
	minLength := config.ShardLevels * config.ShardWidth
	if config.ShardLevels <= 0 || len(name) < minLength {
		return nil
	}

	dirs := make([]string, config.ShardLevels)
	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		dirs[i] = name[offset : offset+config.ShardWidth]
		offset += config.ShardWidth
	}

	return dirs
}

func splitKey(key string) (dir, name string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}
