//go:build windows

package agent

import "os"

func interruptSignal() os.Signal { return os.Kill }
