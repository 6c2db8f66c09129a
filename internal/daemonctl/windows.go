package daemonctl

import (
	"fmt"
	"os/exec"
	"strings"
)

// SchtasksManager registers packrat daemons as Windows scheduled tasks.
type SchtasksManager struct{}

func (w *SchtasksManager) Install(svc Service) error {
	cmd := exec.Command("schtasks", "/create",
		"/TN", svc.Name,
		"/TR", fmt.Sprintf(`"%s"`, svc.ExecStart),
		"/SC", "ONLOGON",
		"/RL", "HIGHEST",
		"/F")

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to register task: %w\n%s", err, out)
	}

	return nil
}

func (w *SchtasksManager) Uninstall(name string) error {
	cmd := exec.Command("schtasks", "/DELETE", "/TN", name, "/F")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to remove task: %w\n%s", err, out)
	}

	return nil
}

func (w *SchtasksManager) Restart(name string) error {
	_ = exec.Command("schtasks", "/END", "/TN", name).Run()

	cmd := exec.Command("schtasks", "/RUN", "/TN", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to restart task: %w\n%s", err, out)
	}

	return nil
}

func (w *SchtasksManager) Status(name string) (ServiceStatus, error) {
	status := ServiceStatus{Name: name}

	out, err := exec.Command("schtasks", "/Query", "/TN", name).Output()
	if err != nil {
		return status, nil
	}

	status.Installed = true
	status.Active = strings.Contains(string(out), "Running")
	return status, nil
}

func (w *SchtasksManager) List(prefix string) ([]string, error) {
	out, err := exec.Command("schtasks", "/Query", "/FO", "CSV", "/NH").Output()
	if err != nil {
		return nil, nil
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) == 0 {
			continue
		}
		name := strings.Trim(strings.TrimPrefix(strings.Trim(fields[0], `"`), `\`), " \r")
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	return names, nil
}
