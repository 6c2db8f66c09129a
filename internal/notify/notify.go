package notify

import (
	"errors"
	"os/exec"
)

// Notifier delivers a user-visible notification.
type Notifier interface {
	Notify(title, body string) error
}

// Desktop shells out to notify-send. Missing binary is not an error; the
// notification is best-effort.
type Desktop struct{}

func (Desktop) Notify(title, body string) error {
	cmd := exec.Command("notify-send", "--app-name=packrat", title, body)
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil
		}
		return err
	}
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string) error { return nil }
