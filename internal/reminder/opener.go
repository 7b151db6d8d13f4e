package reminder

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Opener hands a deep link to the platform.
type Opener interface {
	CanOpen(uri string) bool
	Open(ctx context.Context, uri string) error
}

// Send opens the link, or reports ErrAppUnavailable when nothing can
// handle it.
func Send(ctx context.Context, opener Opener, link Link) error {
	if opener == nil || !opener.CanOpen(link.URI) {
		return ErrAppUnavailable
	}
	if err := opener.Open(ctx, link.URI); err != nil {
		return fmt.Errorf("%w: %v", ErrAppUnavailable, err)
	}
	return nil
}

// CommandOpener shells out to a URL handler such as xdg-open.
type CommandOpener struct {
	Command string
}

func SystemOpener() CommandOpener {
	if runtime.GOOS == "darwin" {
		return CommandOpener{Command: "open"}
	}
	return CommandOpener{Command: "xdg-open"}
}

func (o CommandOpener) CanOpen(string) bool {
	if o.Command == "" {
		return false
	}
	_, err := exec.LookPath(o.Command)
	return err == nil
}

func (o CommandOpener) Open(ctx context.Context, uri string) error {
	return exec.CommandContext(ctx, o.Command, uri).Run()
}
