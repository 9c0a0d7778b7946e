package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// DockerDriver runs workers as named containers on a local Docker daemon.
type DockerDriver struct {
	cli    client.APIClient
	cfg    Config
	logger logging.Logger
}

// NewDockerDriver connects to the daemon using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDockerDriver(cfg Config, logger logging.Logger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerDriver{cli: cli, cfg: cfg, logger: logger}, nil
}

// NewDockerDriverWithClient is used by tests to inject a fake client.
func NewDockerDriverWithClient(cli client.APIClient, cfg Config, logger logging.Logger) *DockerDriver {
	return &DockerDriver{cli: cli, cfg: cfg, logger: logger}
}

func (d *DockerDriver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Start ensures a container exists and is running for the stream. A
// pre-existing container with the same handle is reused: started if
// stopped, left alone if already running.
func (d *DockerDriver) Start(ctx context.Context, stream models.Stream, settings models.SystemSettings) (string, error) {
	handle := HandleForStream(stream.ID)

	insp, err := d.cli.ContainerInspect(ctx, handle)
	if err == nil {
		if insp.State != nil && insp.State.Running {
			return handle, nil
		}
		if err := d.cli.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
			return "", retryablef("start container", err)
		}
		d.logger.WithField("handle", handle).Info("Restarted existing worker container")
		return handle, nil
	}
	if !client.IsErrNotFound(err) {
		return "", retryablef("inspect container", err)
	}

	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image: d.cfg.WorkerImage,
			Env:   envList(workerEnv(d.cfg, stream, settings)),
			Labels: map[string]string{
				"flowd.stream-id": stream.ID,
				"flowd.managed":   "true",
			},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(d.cfg.Network),
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyDisabled,
			},
		},
		nil, nil, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			// Image missing locally. Pulling is an operator action, not ours.
			return "", permanentf("create container", err)
		}
		return "", retryablef("create container", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", retryablef("start container", err)
	}

	d.logger.WithFields(logging.Fields{
		"stream_id": stream.ID,
		"handle":    handle,
	}).Info("Started worker container")
	return handle, nil
}

// Stop removes the container. A handle that no longer exists is success.
func (d *DockerDriver) Stop(ctx context.Context, handle string) error {
	timeout := int(StopTimeout.Seconds())
	if err := d.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return retryablef("stop container", err)
	}
	if err := d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{RemoveVolumes: true, Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return retryablef("remove container", err)
	}
	d.logger.WithField("handle", handle).Info("Stopped worker container")
	return nil
}

func (d *DockerDriver) Inspect(ctx context.Context, handle string) (Inspection, error) {
	insp, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Inspection{State: StateMissing}, nil
		}
		return Inspection{}, retryablef("inspect container", err)
	}

	out := Inspection{State: StateExited}
	if insp.State != nil {
		switch insp.State.Status {
		case "running":
			out.State = StateRunning
		case "created", "restarting":
			out.State = StateStarting
		}
		out.LastError = insp.State.Error
		if t, err := time.Parse(time.RFC3339Nano, insp.State.StartedAt); err == nil && !t.IsZero() {
			out.StartedAt = t
		}
		if out.State == StateExited && out.LastError == "" && insp.State.ExitCode != 0 {
			out.LastError = "exit code " + strconv.Itoa(insp.State.ExitCode)
		}
	}
	return out, nil
}

// Tail returns the last n log lines, stdout and stderr interleaved.
func (d *DockerDriver) Tail(ctx context.Context, handle string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 100
	}
	rc, err := d.cli.ContainerLogs(ctx, handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, permanentf("container logs", err)
		}
		return nil, retryablef("container logs", err)
	}
	defer rc.Close()

	// Docker multiplexes stdout/stderr on one connection; demux both into
	// a single buffer to keep the original ordering.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, retryablef("read logs", err)
	}

	var out []string
	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		out = append(out, strings.TrimRight(sc.Text(), "\r"))
	}
	return out, sc.Err()
}
