// Package versionstore provides checksummed artifact versioning.
//
// Every correction attempt's output file is copied to an immutable,
// uniquely named sibling whose name embeds the attempt number and a
// truncated content digest. History is re-derivable purely from
// directory contents: no sequence state is stored anywhere else.
//
// Naming grammar:
//   - attempt 0 keeps the original name unchanged
//   - attempt N>0 becomes <stem>_v<N>_<first-8-hex-of-digest><suffix>
package versionstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// checksumBlockSize is the read block size for streaming digests.
const checksumBlockSize = 64 * 1024

// digestPrefixLen is how many hex chars of the digest appear in names.
// The truncated digest is a human-debuggable fingerprint; full
// verification always recomputes the complete digest.
const digestPrefixLen = 8

// versionPattern matches the `_v<N>_<8hex>` segment of a versioned name.
var versionPattern = regexp.MustCompile(`_v(\d+)_([0-9a-f]{8})$`)

// Logger is the minimal logging interface used by the store.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Errors
// =============================================================================

// SourceNotFoundError is returned when the file to version does not exist.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source file not found: %s", e.Path)
}

// =============================================================================
// Version Info
// =============================================================================

// VersionInfo describes one discovered version sibling of a base file.
type VersionInfo struct {
	// Attempt is the attempt number parsed from the name (0 for the
	// original or for unparsable names).
	Attempt int `json:"attempt"`
	// Path is the file's full path.
	Path string `json:"path"`
	// DigestPrefix is the truncated digest embedded in the name, empty
	// for the original.
	DigestPrefix string `json:"digest_prefix,omitempty"`
}

// =============================================================================
// Store
// =============================================================================

// Store creates and verifies checksummed artifact versions.
// File operations are independent per file and safe to run concurrently
// across sessions: each reads an immutable source and writes a uniquely
// named output.
type Store struct {
	logger Logger
}

// NewStore creates a version store.
func NewStore(logger Logger) *Store {
	return &Store{logger: logger}
}

// Checksum computes the SHA-256 digest of a file's full byte stream.
// The file is read sequentially in fixed-size blocks, so memory use is
// independent of file size.
func (s *Store) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &SourceNotFoundError{Path: path}
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VersionedName derives the name for an attempt's copy.
// Attempt 0 returns the original name unchanged.
func VersionedName(original string, attempt int, digest string) string {
	if attempt == 0 {
		return original
	}
	dir := filepath.Dir(original)
	base := filepath.Base(original)
	suffix := filepath.Ext(base)
	stem := strings.TrimSuffix(base, suffix)

	prefix := digest
	if len(prefix) > digestPrefixLen {
		prefix = prefix[:digestPrefixLen]
	}

	name := fmt.Sprintf("%s_v%d_%s%s", stem, attempt, prefix, suffix)
	if dir == "." && !strings.HasPrefix(original, "./") {
		return name
	}
	return filepath.Join(dir, name)
}

// CreateVersion copies an attempt's output to its versioned name and
// returns the copy's path and full content digest. Attempt 0 does not
// copy; the original path is the version.
func (s *Store) CreateVersion(original string, attempt int) (string, string, error) {
	digest, err := s.Checksum(original)
	if err != nil {
		return "", "", err
	}

	versionPath := VersionedName(original, attempt, digest)
	if attempt == 0 {
		if s.logger != nil {
			s.logger.Debug("version_recorded",
				"path", versionPath,
				"attempt", attempt,
				"checksum", digest[:digestPrefixLen],
			)
		}
		return versionPath, digest, nil
	}

	if err := copyPreservingTimes(original, versionPath); err != nil {
		return "", "", fmt.Errorf("copy %s to %s: %w", original, versionPath, err)
	}

	if s.logger != nil {
		s.logger.Info("version_created",
			"path", versionPath,
			"attempt", attempt,
			"checksum", digest[:digestPrefixLen],
		)
	}
	return versionPath, digest, nil
}

// Verify recomputes a file's digest and compares it to the expected one.
// A mismatch or missing file returns false rather than an error:
// verification failure is a normal outcome, not an exceptional one.
func (s *Store) Verify(path, expectedDigest string) bool {
	digest, err := s.Checksum(path)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("verify_unreadable", "path", path, "error", err.Error())
		}
		return false
	}
	return digest == expectedDigest
}

// ListVersions discovers all version siblings of a base file and returns
// them ordered by attempt number ascending. The base file itself, when
// present, appears as attempt 0. Names whose version segment does not
// parse default to attempt 0 rather than failing.
func (s *Store) ListVersions(basePath string) ([]VersionInfo, error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	suffix := filepath.Ext(base)
	stem := strings.TrimSuffix(base, suffix)

	var versions []VersionInfo
	if _, err := os.Stat(basePath); err == nil {
		versions = append(versions, VersionInfo{Attempt: 0, Path: basePath})
	}

	pattern := filepath.Join(dir, stem+"_v*"+suffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	for _, match := range matches {
		name := filepath.Base(match)
		versionStem := strings.TrimSuffix(name, suffix)
		attempt := 0
		digestPrefix := ""
		if groups := versionPattern.FindStringSubmatch(versionStem); groups != nil {
			if n, convErr := strconv.Atoi(groups[1]); convErr == nil {
				attempt = n
			}
			digestPrefix = groups[2]
		}
		versions = append(versions, VersionInfo{
			Attempt:      attempt,
			Path:         match,
			DigestPrefix: digestPrefix,
		})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Attempt < versions[j].Attempt
	})
	return versions, nil
}

// copyPreservingTimes copies src to dst and carries over the source's
// mode and timestamps.
func copyPreservingTimes(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return &SourceNotFoundError{Path: src}
		}
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
