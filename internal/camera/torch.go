package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// runCommand runs an external tool and returns its combined output.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// hasControl reports whether the device exposes the named V4L2 control.
func hasControl(ctx context.Context, cam Camera, control string) bool {
	if control == "" {
		return false
	}
	out, err := runCommand(ctx, "v4l2-ctl", "--device="+cam.DevicePath, "--list-ctrls")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == control {
			return true
		}
	}
	return false
}

// HasTorch reports whether cam exposes the torch control.
func HasTorch(ctx context.Context, cam Camera, control string) bool {
	return hasControl(ctx, cam, control)
}

func setTorch(ctx context.Context, cam Camera, control string, on bool) error {
	if control == "" {
		return ErrTorchUnsupported
	}
	value := "0"
	if on {
		value = "1"
	}
	out, err := runCommand(ctx, "v4l2-ctl", "--device="+cam.DevicePath, fmt.Sprintf("--set-ctrl=%s=%s", control, value))
	if err != nil {
		return fmt.Errorf("set %s on %s: %w: %s", control, cam.DeviceID, err, strings.TrimSpace(string(out)))
	}
	return nil
}
