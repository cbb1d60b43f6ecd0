package stage

import (
	"errors"
	"io"
	"time"

	"stagefw/protocol"
)

var ErrNoReply = errors.New("no reply from controller")

// Probe checks for a controller on port by sending an idle request and
// waiting up to timeout for its reply. It reads the port directly, so it
// must run before a Stage takes the port over.
func Probe(port io.ReadWriter, timeout time.Duration) error {
	req := protocol.EncodeCommand(protocol.Idle{}).Bytes()
	if _, err := port.Write(req[:]); err != nil {
		return err
	}

	rx := protocol.NewReceiver(make([]byte, 4*protocol.FrameSize), nil)
	buf := make([]byte, 32)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			rx.PushByte(b)
		}
		for {
			f, ok := rx.Poll()
			if !ok {
				break
			}
			if f.Opcode == protocol.OpIdle {
				return nil
			}
		}
		// Native ports report a read timeout as io.EOF
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return ErrNoReply
}
