package ops

import (
	"context"
	"strings"

	"github.com/bdrman/bdrman/pkg/gateway"
)

type Service struct {
	Unit        string `json:"unit"`
	Load        string `json:"load"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
	Description string `json:"description"`
}

func (o *Ops) Services(ctx context.Context) ([]Service, error) {
	res := o.exec.Execute(ctx, gateway.Cmd("systemctl", "list-units", "--type=service", "--all",
		"--no-pager", "--no-legend", "--plain").WithMaxOutput(listMaxOutput))
	if err := res.Err(); err != nil {
		return nil, err
	}
	return parseServices(res.Output), nil
}

func parseServices(out string) []Service {
	if out == gateway.NoOutput {
		return nil
	}
	var list []Service
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		s := Service{Unit: fields[0], Load: fields[1], Active: fields[2], Sub: fields[3]}
		if len(fields) > 4 {
			s.Description = strings.Join(fields[4:], " ")
		}
		list = append(list, s)
	}
	return list
}

func (o *Ops) ServiceAction(ctx context.Context, action, name string) (gateway.Result, error) {
	if err := validateServiceAction(action); err != nil {
		return gateway.Result{}, err
	}
	if err := ValidateServiceName(name); err != nil {
		return gateway.Result{}, err
	}
	cmd := gateway.Cmd("systemctl", action, name)
	if action == "status" {
		cmd.Args = []string{"status", "--no-pager", name}
	}
	return o.exec.Execute(ctx, cmd), nil
}
