// Package zfssource is the snapshot-source adapter: the thin boundary
// between the backup pipeline and the dataset's copy-on-write snapshot
// manager. The core only ever calls through the Source interface; the
// concrete Exec implementation shells out to the `zfs` command line tool,
// mirroring the way the original backup tool drove `zfs diff`, `zfs
// snapshot`, and `zfs list` as child processes rather than linking a
// library that doesn't exist for this purpose in Go.
package zfssource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/saworbit/zfsbackup/internal/backuperr"
	"github.com/saworbit/zfsbackup/internal/diffentry"
)

// Dataset identifies a zpool/dataset pair, the unit of backup.
type Dataset struct {
	Pool string
	Name string
}

// String renders the dataset in zfs's own "pool/name" notation.
func (d Dataset) String() string {
	return d.Pool + "/" + d.Name
}

// Source is everything the backup pipeline needs from the snapshot manager.
type Source interface {
	TakeSnapshot(ctx context.Context, dataset Dataset, name string) error
	SnapshotExists(ctx context.Context, dataset Dataset, name string) (bool, error)
	ListSnapshots(ctx context.Context, dataset Dataset) ([]string, error)
	MountPath(ctx context.Context, dataset Dataset) (string, error)
	SnapshotMountPath(ctx context.Context, dataset Dataset, snapshot string) (string, error)
	// Diff returns the change-set between previous and current (previous
	// nil means "no prior snapshot": the implementation walks the current
	// snapshot's mount instead of invoking a diff tool), with every path
	// already rewritten relative to the dataset's mount point.
	Diff(ctx context.Context, dataset Dataset, previous *string, current string) ([]diffentry.Raw, error)
}

// Exec is the production Source, driving the zfs(8) command line tool.
type Exec struct{}

// NewExec constructs the command-line-backed Source.
func NewExec() *Exec { return &Exec{} }

func (Exec) TakeSnapshot(ctx context.Context, dataset Dataset, name string) error {
	cmd := exec.CommandContext(ctx, "zfs", "snapshot", fmt.Sprintf("%s@%s", dataset, name))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "dataset already exists") {
			return fmt.Errorf("%w: %s@%s", backuperr.ErrSnapshotExists, dataset, name)
		}
		return fmt.Errorf("zfssource: zfs snapshot %s@%s: %w: %s", dataset, name, err, stderr.String())
	}
	return nil
}

func (Exec) SnapshotExists(ctx context.Context, dataset Dataset, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "zfs", "list", "-t", "snapshot", fmt.Sprintf("%s@%s", dataset, name))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return false, nil
	}
	return false, fmt.Errorf("zfssource: zfs list %s@%s: %w", dataset, name, err)
}

func (Exec) ListSnapshots(ctx context.Context, dataset Dataset) ([]string, error) {
	cmd := exec.CommandContext(ctx, "zfs", "list", "-t", "snapshot", dataset.String(), "-H", "-o", "name")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("zfssource: zfs list -t snapshot %s: %w: %s", dataset, err, stderr.String())
	}

	var names []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		_, name, found := strings.Cut(line, "@")
		if !found {
			continue
		}
		names = append(names, name)
	}
	return names, scanner.Err()
}

func (Exec) MountPath(ctx context.Context, dataset Dataset) (string, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return "", fmt.Errorf("zfssource: reading /proc/self/mounts: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		source, mountPoint, fsType := fields[0], fields[1], fields[2]
		if fsType == "zfs" && source == dataset.String() {
			return mountPoint, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("zfssource: scanning /proc/self/mounts: %w", err)
	}
	return "", fmt.Errorf("%w: %s", backuperr.ErrDatasetUnmounted, dataset)
}

func (e Exec) SnapshotMountPath(ctx context.Context, dataset Dataset, snapshot string) (string, error) {
	mount, err := e.MountPath(ctx, dataset)
	if err != nil {
		return "", err
	}
	return filepath.Join(mount, ".zfs", "snapshot", snapshot), nil
}

func (e Exec) Diff(ctx context.Context, dataset Dataset, previous *string, current string) ([]diffentry.Raw, error) {
	if previous == nil {
		mount, err := e.SnapshotMountPath(ctx, dataset, current)
		if err != nil {
			return nil, err
		}
		return diffentry.WalkFirstBackup(mount)
	}

	cmd := exec.CommandContext(ctx, "zfs", "diff", "-FHh",
		fmt.Sprintf("%s@%s", dataset, *previous),
		fmt.Sprintf("%s@%s", dataset, current),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", backuperr.ErrDiffToolFailed, err, stderr.String())
	}

	entries, err := diffentry.ParseLines(&stdout)
	if err != nil {
		return nil, err
	}

	mount, err := e.MountPath(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return diffentry.RelativeToMount(entries, mount)
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
