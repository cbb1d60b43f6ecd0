//go:build js && wasm
// +build js,wasm

// Command wasm exposes the stage frame codec to a browser console over
// WebSerial. The page owns the port; this module builds and checks frames.
package main

import (
	"encoding/hex"
	"math"
	"syscall/js"

	"stagefw/protocol"
)

func main() {
	js.Global().Set("stageWasm", js.ValueOf(map[string]interface{}{
		"encodeFrame": js.FuncOf(encodeFrameWrapper),
		"floatArg":    js.FuncOf(floatArgWrapper),
		"decodeFrame": js.FuncOf(decodeFrameWrapper),
		"scanFrames":  js.FuncOf(scanFramesWrapper),
		"crc8":        js.FuncOf(crc8Wrapper),
		"crc16":       js.FuncOf(crc16Wrapper),
		"frameSize":   protocol.FrameSize,
	}))

	// Keep the program running
	select {}
}

// encodeFrameWrapper builds a request frame
// Args: opcode (number), arg (number, uint32 or int32), flags (number)
// Returns: hex string of the 12-byte frame
func encodeFrameWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("error: missing opcode argument")
	}
	f := protocol.Frame{Opcode: protocol.Opcode(args[0].Int())}
	if len(args) > 1 {
		// Negative positions arrive as JS numbers below zero
		f.Arg = uint32(int64(args[1].Float()))
	}
	if len(args) > 2 {
		f.Flags = uint8(args[2].Int())
	}
	b := f.Bytes()
	return js.ValueOf(hex.EncodeToString(b[:]))
}

// floatArgWrapper returns the argument bits of a float parameter
// Args: value (number)
// Returns: number (uint32)
func floatArgWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	return js.ValueOf(math.Float32bits(float32(args[0].Float())))
}

// decodeFrameWrapper decodes one frame
// Args: hexString (string)
// Returns: {opcode, name, arg, argInt, argFloat, flags, status, error}
func decodeFrameWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeError("invalid hex string: " + err.Error())
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		return makeError(err.Error())
	}
	return js.ValueOf(frameResult(f))
}

// scanFramesWrapper extracts every valid frame from a received byte stream,
// skipping garbage and corrupt frames the way the controller does
// Args: hexString (string)
// Returns: {frames: [...], stats: {...}, error}
func scanFramesWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeError("invalid hex string: " + err.Error())
	}

	rx := protocol.NewReceiver(make([]byte, 4*protocol.FrameSize), nil)
	frames := []interface{}{}
	for _, b := range data {
		rx.PushByte(b)
		for {
			f, ok := rx.Poll()
			if !ok {
				break
			}
			frames = append(frames, frameResult(f))
		}
	}

	st := rx.Stats()
	return js.ValueOf(map[string]interface{}{
		"frames": frames,
		"stats": map[string]interface{}{
			"accepted": st.Accepted,
			"dropped":  st.Dropped,
			"skipped":  st.Skipped,
			"overruns": st.Overruns,
		},
	})
}

// crc8Wrapper calculates the frame checksum
// Args: hexString (string)
// Returns: number (uint8)
func crc8Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC8(data)))
}

// crc16Wrapper calculates the legacy CRC16 checksum
// Args: hexString (string)
// Returns: number (uint16)
func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

func frameResult(f protocol.Frame) map[string]interface{} {
	return map[string]interface{}{
		"opcode":   int(f.Opcode),
		"name":     f.Opcode.String(),
		"arg":      f.Arg,
		"argInt":   f.Int(),
		"argFloat": f.Float(),
		"flags":    int(f.Flags),
		"status": map[string]interface{}{
			"limit1":     f.Flags&protocol.StatusLimit1 != 0,
			"limit2":     f.Flags&protocol.StatusLimit2 != 0,
			"estop":      f.Flags&protocol.StatusEStop != 0,
			"running":    f.Flags&protocol.StatusRunning != 0,
			"led":        f.Flags&protocol.StatusLEDOn != 0,
			"failure":    f.Flags&protocol.StatusFailure != 0,
			"calibrated": f.Flags&protocol.StatusCalibrated != 0,
		},
	}
}

func makeError(errMsg string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": errMsg})
}
