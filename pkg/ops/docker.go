package ops

import (
	"context"
	"strconv"
	"strings"

	"github.com/bdrman/bdrman/pkg/gateway"
)

type Container struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Image   string `json:"image"`
	Running bool   `json:"running"`
}

type PortCheck struct {
	Port int  `json:"port"`
	Open bool `json:"open"`
}

type CapRoverStatus struct {
	Running bool        `json:"running"`
	Ports   []PortCheck `json:"ports"`
}

var capRoverPorts = []int{80, 443, 3000}

// Containers lists every container, running or not.
func (o *Ops) Containers(ctx context.Context) ([]Container, error) {
	res := o.exec.Execute(ctx, gateway.Cmd("docker", "ps", "-a", "--format", "{{.Names}}|{{.Status}}|{{.Image}}").
		WithMaxOutput(listMaxOutput))
	if err := res.Err(); err != nil {
		return nil, err
	}
	return parseContainers(res.Output), nil
}

func parseContainers(out string) []Container {
	if out == gateway.NoOutput {
		return nil
	}
	var list []Container
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 2 {
			continue
		}
		c := Container{Name: parts[0], Status: parts[1]}
		if len(parts) == 3 {
			c.Image = parts[2]
		}
		c.Running = strings.HasPrefix(c.Status, "Up")
		list = append(list, c)
	}
	return list
}

// SearchContainers filters the container list by a case-insensitive substring.
func (o *Ops) SearchContainers(ctx context.Context, query string) ([]Container, error) {
	all, err := o.Containers(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	var matches []Container
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), query) || strings.Contains(strings.ToLower(c.Image), query) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// ContainerLogs returns the most recent log lines, keeping the tail on overflow.
func (o *Ops) ContainerLogs(ctx context.Context, name string) (gateway.Result, error) {
	if err := ValidateContainerName(name); err != nil {
		return gateway.Result{}, err
	}
	cmd := gateway.Cmd("docker", "logs", "--tail", strconv.Itoa(LogsTailLines), name).
		WithMaxOutput(LogsMaxOutput).
		Tail()
	return o.exec.Execute(ctx, cmd), nil
}

// ContainerAction starts, stops or restarts one container.
func (o *Ops) ContainerAction(ctx context.Context, action, name string) (gateway.Result, error) {
	if err := validateContainerAction(action); err != nil {
		return gateway.Result{}, err
	}
	if err := ValidateContainerName(name); err != nil {
		return gateway.Result{}, err
	}
	return o.exec.Execute(ctx, gateway.Cmd("docker", action, name)), nil
}

func (o *Ops) CapRover(ctx context.Context) CapRoverStatus {
	res := o.exec.Execute(ctx, gateway.Cmd("docker", "inspect", "--format", "{{.State.Running}}", "caprover"))

	status := CapRoverStatus{Running: res.OK() && strings.TrimSpace(res.Output) == "true"}
	for _, port := range capRoverPorts {
		status.Ports = append(status.Ports, PortCheck{Port: port, Open: o.probe(ctx, localAddr(port))})
	}
	return status
}
