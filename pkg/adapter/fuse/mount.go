package fuse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/plevy/internal/logger"
)

// procMounts is the mount table consulted for stale mounts.
var procMounts = "/proc/self/mounts"

// prepareMountPoint makes sure path is an empty, unmounted directory.
//
// A mount point left behind by a crashed process answers stat with
// ENOTCONN; such a mount, or a live mount still listed in the mount table,
// is detached before returning.
func prepareMountPoint(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("mount point %s is not a directory", path)
		}
		if mounted, _ := isMounted(path); mounted {
			logger.Warn("Mount point %s is already mounted, detaching", path)
			return forceUnmount(path)
		}
		return nil

	case errors.Is(err, syscall.ENOTCONN):
		logger.Warn("Stale FUSE mount at %s, detaching", path)
		return forceUnmount(path)

	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create mount point: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("failed to stat mount point: %w", err)
	}
}

// isMounted reports whether path appears as a target in the mount table.
func isMounted(path string) (bool, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	return mountedAt(f, filepath.Clean(abs))
}

// mountedAt scans a mount table in /proc/mounts format for target.
func mountedAt(r io.Reader, target string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if unescapeMountPath(fields[1]) == target {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// unescapeMountPath decodes the octal escapes (\040 for space and friends)
// the kernel uses in the mount table.
func unescapeMountPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// unmountCommands are tried in order before falling back to umount(2).
var unmountCommands = [][]string{
	{"fusermount3", "-u", "-z"},
	{"fusermount", "-u", "-z"},
	{"umount", "-l"},
}

// forceUnmount detaches whatever is mounted at path.
func forceUnmount(path string) error {
	var errs []error
	for _, cmd := range unmountCommands {
		bin, err := exec.LookPath(cmd[0])
		if err != nil {
			continue
		}
		args := append(append([]string{}, cmd[1:]...), path)
		out, err := exec.Command(bin, args...).CombinedOutput()
		if err == nil {
			logger.Debug("Unmounted %s with %s", path, cmd[0])
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w: %s", cmd[0], err, strings.TrimSpace(string(out))))
	}

	if err := unix.Unmount(path, 0); err != nil {
		errs = append(errs, fmt.Errorf("umount(2): %w", err))
		return fmt.Errorf("failed to unmount %s: %w", path, errors.Join(errs...))
	}
	return nil
}
