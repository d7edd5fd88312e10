package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// WorkDir is where user files are copied inside the container.
const WorkDir = "/workspace"

// idleCmd keeps the container alive between executions.
var idleCmd = []string{"sh", "-c", "while true; do sleep 3600; done"}

// DockerBackend talks to the Docker daemon on behalf of one runtime.
type DockerBackend struct {
	client *client.Client
}

// NewDockerBackend connects to the daemon configured in the environment.
func NewDockerBackend(ctx context.Context) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrDockerDown, err)
	}
	return &DockerBackend{client: cli}, nil
}

// CreateContainer starts an idle Python container with cfg's limits.
func (b *DockerBackend) CreateContainer(ctx context.Context, cfg Config) (string, error) {
	if err := b.pullIfMissing(ctx, cfg.Image); err != nil {
		return "", err
	}

	resources := container.Resources{
		Memory:   int64(cfg.MemoryMB) << 20,
		NanoCPUs: int64(cfg.CPULimit * 1e9),
	}
	if cfg.PidsLimit > 0 {
		resources.PidsLimit = &cfg.PidsLimit
	}

	resp, err := b.client.ContainerCreate(ctx,
		&container.Config{
			Image:           cfg.Image,
			Cmd:             idleCmd,
			WorkingDir:      WorkDir,
			NetworkDisabled: cfg.NetworkOff,
			Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
			Labels:          map[string]string{"pylearn.sandbox": "true"},
		},
		&container.HostConfig{Resources: resources},
		nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = b.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

// CopyFiles writes files into dir, a directory under WorkDir that is
// created if missing.
func (b *DockerBackend) CopyFiles(ctx context.Context, containerID, dir string, files map[string]string) error {
	if err := checkRunDir(dir); err != nil {
		return err
	}
	archive, err := tarball(dir, files)
	if err != nil {
		return err
	}
	return b.client.CopyToContainer(ctx, containerID, WorkDir, archive, container.CopyToContainerOptions{})
}

// checkRunDir rejects run directories that would escape WorkDir.
func checkRunDir(dir string) error {
	if dir == "" || dir == "." || strings.Contains(dir, "/") || strings.Contains(dir, "..") {
		return fmt.Errorf("invalid run directory %q", dir)
	}
	return nil
}

// RunPath is the absolute in-container path of name inside dir.
func RunPath(dir, name string) string {
	return path.Join(WorkDir, dir, name)
}

// tarball packs dir followed by its files in name order.
func tarball(dir string, files map[string]string) (*bytes.Buffer, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: dir + "/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		return nil, fmt.Errorf("tar %s: %w", dir, err)
	}
	for _, name := range names {
		content := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: path.Join(dir, name), Mode: 0644, Size: int64(len(content))}); err != nil {
			return nil, fmt.Errorf("tar %s: %w", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return nil, fmt.Errorf("tar %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

// Exec runs cmd in the container with dir as its working directory.
// Running past timeout is reported through ExecResult.TimedOut rather than
// as an error, and only processes started from dir are killed.
func (b *DockerBackend) Exec(ctx context.Context, containerID, dir string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	if err := checkRunDir(dir); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := b.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   path.Join(WorkDir, dir),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	start := time.Now()
	attach, err := b.client.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var raw bytes.Buffer
	copied := make(chan struct{})
	go func() {
		_, _ = io.Copy(&raw, attach.Reader)
		close(copied)
	}()

	select {
	case <-copied:
	case <-execCtx.Done():
		// closing the hijacked connection unblocks the copy
		attach.Close()
		<-copied
		if ctx.Err() != nil || !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		b.detached(ctx, containerID, killCommand(dir))
		res := demux(raw.Bytes())
		res.ExitCode = -1
		res.Duration = time.Since(start)
		res.TimedOut = true
		return res, nil
	}

	res := demux(raw.Bytes())
	res.Duration = time.Since(start)

	inspect, err := b.client.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	res.ExitCode = inspect.ExitCode
	return res, nil
}

// RemoveDir deletes a run directory once its execution is over.
func (b *DockerBackend) RemoveDir(ctx context.Context, containerID, dir string) error {
	if err := checkRunDir(dir); err != nil {
		return err
	}
	return b.detached(ctx, containerID, []string{"rm", "-rf", path.Join(WorkDir, dir)})
}

// killCommand matches the command line of programs launched from dir, so
// a runaway run is stopped without touching runs in other directories.
func killCommand(dir string) []string {
	return []string{"pkill", "-9", "-f", path.Join(WorkDir, dir) + "/"}
}

// detached runs a housekeeping command that must outlive ctx's
// cancellation.
func (b *DockerBackend) detached(ctx context.Context, containerID string, cmd []string) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	resp, err := b.client.ContainerExecCreate(runCtx, containerID, container.ExecOptions{Cmd: cmd})
	if err != nil {
		return fmt.Errorf("create exec %s: %w", cmd[0], err)
	}
	return b.client.ContainerExecStart(runCtx, resp.ID, container.ExecStartOptions{})
}

// DestroyContainer stops and removes a container.
func (b *DockerBackend) DestroyContainer(ctx context.Context, containerID string) error {
	grace := 10
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	return b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// IsContainerRunning reports whether the container is still up.
func (b *DockerBackend) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := b.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, err
	}
	return info.State.Running, nil
}

// Close closes the Docker client.
func (b *DockerBackend) Close() error {
	return b.client.Close()
}

func (b *DockerBackend) pullIfMissing(ctx context.Context, ref string) error {
	if _, err := b.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

const (
	streamStdout = 1
	streamStderr = 2
	frameHeader  = 8
)

// demux splits Docker's multiplexed attach stream. Each frame is an 8-byte
// header (stream type, 3 zero bytes, big-endian length) plus payload.
// Frames are appended to Output in arrival order. Input without a valid
// first header is taken as plain output.
func demux(data []byte) *ExecResult {
	if len(data) > 0 && (len(data) < frameHeader || data[0] > streamStderr) {
		return &ExecResult{Output: string(data)}
	}

	var output, stderr strings.Builder
	for len(data) >= frameHeader {
		stream := data[0]
		size := int(binary.BigEndian.Uint32(data[4:frameHeader]))
		data = data[frameHeader:]
		size = min(size, len(data))

		chunk := data[:size]
		data = data[size:]

		output.Write(chunk)
		if stream == streamStderr {
			stderr.Write(chunk)
		}
	}
	return &ExecResult{Output: output.String(), Stderr: stderr.String()}
}
