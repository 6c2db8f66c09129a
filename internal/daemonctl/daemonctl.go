package daemonctl

import "runtime"

// Service describes one daemon unit to register with the platform scheduler.
type Service struct {
	Name        string
	Description string
	ExecStart   string
}

type ServiceStatus struct {
	Name      string
	Installed bool
	Active    bool
}

// Manager abstracts the platform daemon scheduler. All packrat services share
// a common name prefix so they can be enumerated and restarted as a group.
type Manager interface {
	Install(svc Service) error
	Uninstall(name string) error
	Restart(name string) error
	Status(name string) (ServiceStatus, error)
	List(prefix string) ([]string, error)
}

func New() Manager {
	switch runtime.GOOS {
	case "linux":
		return &SystemdManager{}
	case "windows":
		return &SchtasksManager{}
	default:
		return &UnsupportedManager{}
	}
}

type UnsupportedManager struct{}

func (u *UnsupportedManager) Install(Service) error { return nil }

func (u *UnsupportedManager) Uninstall(string) error { return nil }

func (u *UnsupportedManager) Restart(string) error { return nil }

func (u *UnsupportedManager) Status(name string) (ServiceStatus, error) {
	return ServiceStatus{Name: name}, nil
}

func (u *UnsupportedManager) List(string) ([]string, error) { return nil, nil }
