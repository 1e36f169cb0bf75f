package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Docker runs the engine inside a container image. Every mount is bound at
// the same path inside the container, so script and design paths need no
// rewriting.
type Docker struct {
	Image       string
	Binary      string
	Args        []string
	Env         map[string]string
	Timeout     time.Duration
	Mounts      []Mount
	CPULimit    float64
	MemoryLimit int64
	UserID      string

	once sync.Once
	cli  *client.Client
	err  error
}

type Mount struct {
	Source   string
	ReadOnly bool
}

func (d *Docker) dockerClient() (*client.Client, error) {
	d.once.Do(func() {
		d.cli, d.err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})
	return d.cli, d.err
}

// Close releases the Docker client.
func (d *Docker) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}

func (d *Docker) Run(ctx context.Context, scriptPath, logPath string) (*Result, error) {
	cli, err := d.dockerClient()
	if err != nil {
		return nil, &SpawnError{Op: "creating docker client", Err: err}
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &SpawnError{Op: "creating log", Err: err}
	}
	defer logFile.Close()

	envSlice := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	mounts := make([]mount.Mount, 0, len(d.Mounts))
	for _, m := range d.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Source,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		Init:        &initTrue,
		NetworkMode: "none",
	}
	if d.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(d.CPULimit * 1e9)
	}
	if d.MemoryLimit > 0 {
		hostCfg.Memory = d.MemoryLimit
	}

	// A TTY keeps the log stream unmultiplexed; the parser tolerates CRLF.
	containerCfg := &container.Config{
		Image:  d.Image,
		Cmd:    Command(d.Binary, d.Args, scriptPath),
		Env:    envSlice,
		Tty:    true,
		Labels: map[string]string{"recipeforge": "true"},
	}
	if d.UserID != "" {
		containerCfg.User = d.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, &SpawnError{Op: "creating container", Err: err}
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, &SpawnError{Op: "starting container", Err: err}
	}

	waitCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	errCh := waitResult.Error
	for {
		select {
		case err := <-errCh:
			if err == nil {
				// Closed without an error; the result is still coming.
				errCh = nil
				continue
			}
			cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
			d.copyLogs(cli, containerID, logFile)
			res := &Result{ExitCode: TimeoutExitCode, Duration: time.Since(start)}
			if ctx.Err() != nil {
				return res, fmt.Errorf("engine interrupted: %w", ctx.Err())
			}
			if waitCtx.Err() == nil {
				return res, fmt.Errorf("waiting for container: %w", err)
			}
			res.TimedOut = true
			return res, nil
		case status := <-waitResult.Result:
			if err := d.copyLogs(cli, containerID, logFile); err != nil {
				return nil, fmt.Errorf("capturing container output: %w", err)
			}
			return &Result{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func (d *Docker) copyLogs(cli *client.Client, containerID string, w io.Writer) error {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logReader.Close()
	_, err = io.Copy(w, logReader)
	return err
}
