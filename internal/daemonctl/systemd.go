package daemonctl

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

const unitTemplate = `[Unit]
Description={{.Description}}
After=network.target

[Service]
ExecStart={{.ExecStart}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// SystemdManager registers packrat daemons as systemd user units.
type SystemdManager struct{}

func (s *SystemdManager) unitDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return dir, nil
}

func (s *SystemdManager) unitPath(name string) (string, error) {
	dir, err := s.unitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".service"), nil
}

func (s *SystemdManager) Install(svc Service) error {
	path, err := s.unitPath(svc.Name)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create unit file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	tmpl := template.Must(template.New("unit").Parse(unitTemplate))
	if err := tmpl.Execute(f, svc); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	cmds := [][]string{
		{"systemctl", "--user", "daemon-reload"},
		{"systemctl", "--user", "enable", svc.Name + ".service"},
		{"systemctl", "--user", "start", svc.Name + ".service"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to run %v: %w\n%s", args, err, out)
		}
	}

	return nil
}

func (s *SystemdManager) Uninstall(name string) error {
	cmds := [][]string{
		{"systemctl", "--user", "stop", name + ".service"},
		{"systemctl", "--user", "disable", name + ".service"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		_ = cmd.Run()
	}

	path, err := s.unitPath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return exec.Command("systemctl", "--user", "daemon-reload").Run()
}

func (s *SystemdManager) Restart(name string) error {
	cmd := exec.Command("systemctl", "--user", "restart", name+".service")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to restart %s: %w\n%s", name, err, out)
	}
	return nil
}

func (s *SystemdManager) Status(name string) (ServiceStatus, error) {
	path, err := s.unitPath(name)
	if err != nil {
		return ServiceStatus{Name: name}, err
	}

	status := ServiceStatus{Name: name}
	if _, err := os.Stat(path); err == nil {
		status.Installed = true
	}

	out, err := exec.Command("systemctl", "--user", "is-active", name+".service").Output()
	if err == nil && strings.TrimSpace(string(out)) == "active" {
		status.Active = true
	}

	return status, nil
}

// List returns the names of installed units matching prefix, without the
// .service suffix.
func (s *SystemdManager) List(prefix string) ([]string, error) {
	dir, err := s.unitDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".service") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".service"))
	}

	return names, nil
}
