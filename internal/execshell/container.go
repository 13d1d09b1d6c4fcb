package execshell

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerExecutor runs commands inside an already-running container,
// identified by Instance.containerId (SPEC_FULL.md §3). Container lifecycle
// — creating, starting, stopping containers — is out of scope; this
// executor only execs into a container that some external supervisor
// already started.
type ContainerExecutor struct {
	client      *client.Client
	containerID string
}

// NewContainerExecutor binds to an existing container by ID.
func NewContainerExecutor(containerID string) (*ContainerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &ContainerExecutor{client: cli, containerID: containerID}, nil
}

// Exec runs cmd inside the bound container via ContainerExecCreate/Attach.
func (c *ContainerExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workDir,
	}

	created, err := c.client.ContainerExecCreate(ctx, c.containerID, execCfg)
	if err != nil {
		return "", "", -1, fmt.Errorf("create exec: %w", err)
	}

	attach, err := c.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return "", "command timed out", -1, ctx.Err()
	case copyErr := <-copyDone:
		if copyErr != nil {
			return "", "", -1, fmt.Errorf("read exec output: %w", copyErr)
		}
	}

	inspect, err := c.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("inspect exec: %w", err)
	}

	return outBuf.String(), errBuf.String(), inspect.ExitCode, nil
}

// Close closes the underlying docker client.
func (c *ContainerExecutor) Close() error {
	return c.client.Close()
}
