package helpers

import (
	"context"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type signal struct {
	pid int
	sig syscall.Signal
}

func TestTerminateEscalates(t *testing.T) {
	alive := map[int]bool{101: true, 202: true}
	var sent []signal
	h := Holders{
		Run: func(_ context.Context, name string, _ ...string) string {
			if name == "lsof" {
				return "202\n101\n" + strconv.Itoa(os.Getpid()) + "\n"
			}
			return ""
		},
		Kill: func(pid int, sig syscall.Signal) error {
			if sig == 0 {
				if alive[pid] {
					return nil
				}
				return syscall.ESRCH
			}
			sent = append(sent, signal{pid, sig})
			if sig == syscall.SIGTERM && pid == 101 {
				alive[pid] = false
			}
			return nil
		},
		Grace: time.Millisecond,
		Log:   logrus.NewEntry(logrus.New()),
	}

	assert.True(t, h.Terminate(context.Background(), "/dev/video0"))
	assert.Equal(t, []signal{
		{101, syscall.SIGTERM},
		{202, syscall.SIGTERM},
		{202, syscall.SIGKILL},
	}, sent)
}

func TestTerminateNoHolders(t *testing.T) {
	h := Holders{
		Run:  func(context.Context, string, ...string) string { return "" },
		Kill: func(int, syscall.Signal) error { t.Fatal("no process should be signalled"); return nil },
		Log:  logrus.NewEntry(logrus.New()),
	}
	assert.False(t, h.Terminate(context.Background(), "/dev/video0"))
}

func TestParseFuserOutput(t *testing.T) {
	out := "                     USER        PID ACCESS COMMAND\n/dev/video0:         pi         1234 F.... ffmpeg\n"
	assert.Equal(t, map[int]struct{}{1234: {}}, parseFuserPIDs(out))
	assert.Empty(t, parsePIDLines("not a pid\n-3\n"))
}
