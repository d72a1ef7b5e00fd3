//go:build unix

package launch

import "golang.org/x/sys/unix"

var defaultExec ExecFunc = unix.Exec
