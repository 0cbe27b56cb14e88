package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	logrus "github.com/sirupsen/logrus"

	"sandboxd/lang"
)

// Labels attached to every pool container so poolctl and crash recovery
// can find them.
const (
	LabelPool     = "sandboxd.pool"
	LabelLanguage = "sandboxd.language"
)

// DockerRuntime implements ContainerRuntime against the local Docker
// daemon.
type DockerRuntime struct {
	cli      *client.Client
	memoryMB int64
	nanoCPUs int64
	logger   *logrus.Logger
}

// NewDockerRuntime creates a Docker-backed runtime and verifies daemon
// connectivity.
func NewDockerRuntime(memoryMB int, cpus float64, logger *logrus.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach Docker daemon: %w", err)
	}
	return &DockerRuntime{
		cli:      cli,
		memoryMB: int64(memoryMB),
		nanoCPUs: int64(cpus * 1e9),
		logger:   logger,
	}, nil
}

func (r *DockerRuntime) Create(ctx context.Context, language string) (string, error) {
	cfg, ok := lang.Get(language)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	pidsLimit := int64(128)
	config := &container.Config{
		Image: cfg.Image,
		Cmd:   cfg.KeepAlive,
		Labels: map[string]string{
			LabelPool:     "true",
			LabelLanguage: language,
		},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:    r.memoryMB * 1024 * 1024,
			NanoCPUs:  r.nanoCPUs,
			PidsLimit: &pidsLimit,
		},
		NetworkMode:    "none",
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		// Sized for compiler scratch and build caches; runtimes that
		// write caches redirect them here via lang.Config.Env.
		Tmpfs: map[string]string{"/tmp": "size=64m,mode=1777"},
	}

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"container": shortID(resp.ID),
		"language":  language,
	}).Info("Started pool container")
	return resp.ID, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, id, language, code, stdin string, env map[string]string) (ExecOutput, error) {
	cfg, ok := lang.Get(language)
	if !ok {
		return ExecOutput{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	path := lang.Workspace + "/" + cfg.FileName
	encoded := base64.StdEncoding.EncodeToString([]byte(code))
	write := []string{"sh", "-c",
		fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s", lang.Workspace, encoded, path)}

	if out, err := r.execRun(ctx, id, write, "", nil); err != nil {
		return ExecOutput{}, fmt.Errorf("failed to stage code: %w", err)
	} else if out.ExitCode != 0 {
		return ExecOutput{}, fmt.Errorf("failed to stage code: exit %d: %s", out.ExitCode, out.Output)
	}

	envList := append([]string(nil), cfg.Env...)
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	out, err := r.execRun(ctx, id, cfg.ExecArgs(path), stdin, envList)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline hit mid-run: kill the workload so the reset pass
			// does not inherit a live process tree.
			r.killWorkload(id)
			return ExecOutput{}, ctx.Err()
		}
		return ExecOutput{}, err
	}
	return out, nil
}

// workloadPattern is the pkill -f pattern for processes running out of
// the workspace. The bracketed first character keeps it from matching
// the shell that carries the pkill in its own command line.
func workloadPattern() string {
	return "[" + lang.Workspace[:1] + "]" + lang.Workspace[1:]
}

func (r *DockerRuntime) Reset(ctx context.Context, id string) error {
	// Two separate execs: the kill shell must not carry the bare
	// workspace path anywhere in its command line, or pkill -f matches
	// the shell itself and kills it before || true runs. The wipe runs
	// second so nothing recreates state after it.
	kill := []string{"sh", "-c",
		fmt.Sprintf("pkill -9 -f '%s' || true", workloadPattern())}
	out, err := r.execRun(ctx, id, kill, "", nil)
	if err != nil {
		return fmt.Errorf("failed to reset container %s: %w", shortID(id), err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("failed to reset container %s: kill exit %d", shortID(id), out.ExitCode)
	}

	wipe := []string{"rm", "-rf", lang.Workspace}
	out, err = r.execRun(ctx, id, wipe, "", nil)
	if err != nil {
		return fmt.Errorf("failed to reset container %s: %w", shortID(id), err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("failed to reset container %s: wipe exit %d", shortID(id), out.ExitCode)
	}
	return nil
}

func (r *DockerRuntime) Probe(ctx context.Context, id string) error {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}
	if info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s not running", shortID(id))
	}
	return nil
}

func (r *DockerRuntime) Destroy(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

// execRun runs a command inside the container, streaming stdin in and
// demuxing stdout/stderr into one combined buffer.
func (r *DockerRuntime) execRun(ctx context.Context, id string, cmd []string, stdin string, env []string) (ExecOutput, error) {
	opts := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != "",
	}

	created, err := r.cli.ContainerExecCreate(ctx, id, opts)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecOutput{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	if stdin != "" {
		go func() {
			io.WriteString(attach.Conn, stdin)
			attach.CloseWrite()
		}()
	}

	var output bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&output, &output, attach.Reader)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		return ExecOutput{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return ExecOutput{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	inspect, err := r.cli.ContainerExecInspect(context.WithoutCancel(ctx), created.ID)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return ExecOutput{Output: output.String(), ExitCode: inspect.ExitCode}, nil
}

// killWorkload force-kills whatever the execution left running. Best
// effort with its own deadline; the caller is already past its own.
func (r *DockerRuntime) killWorkload(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kill := []string{"sh", "-c", fmt.Sprintf("pkill -9 -f '%s' || true", workloadPattern())}
	if _, err := r.execRun(ctx, id, kill, "", nil); err != nil {
		r.logger.WithFields(logrus.Fields{
			"container": shortID(id),
			"error":     err,
		}).Warn("Failed to kill timed-out workload")
	}
}

// shortID returns a shortened container ID for logging.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
