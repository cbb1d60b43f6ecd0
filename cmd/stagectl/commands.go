package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/google/shlex"

	"stagefw/host/config"
	"stagefw/host/stage"
	"stagefw/protocol"
)

var (
	errUsage   = errors.New("usage")
	errQuit    = errors.New("quit")
	errUnknown = errors.New("unknown command")
)

// commander executes stage commands from the shell, -e arguments and scripts
type commander struct {
	ctx   context.Context
	stage *stage.Stage
	cfg   config.Config
	out   io.Writer

	// depth guards against scripts that run themselves
	depth int
}

type command struct {
	names []string
	usage string
	help  string
	run   func(c *commander, args []string) error

	// builtin commands are provided by ishell in the interactive shell
	builtin bool
}

var commands []command

func init() {
	commands = []command{
		{names: []string{"i", "idle"}, help: "idle packet (show status flags)", run: (*commander).idle},
		{names: []string{"w", "wait"}, usage: "[timeout=0s] [granularity]", help: "wait for a motor request to finish", run: (*commander).wait},
		{names: []string{"r", "relative"}, usage: "STEPS SIZE", help: "relative motion; SIZE is 1, 2, 4, 8 or 16", run: (*commander).relative},
		{names: []string{"a", "absolute"}, usage: "POS [SIZE]", help: "absolute motion to POS", run: (*commander).absolute},
		{names: []string{"s", "speed"}, usage: "HZ", help: "set the motor step rate", run: (*commander).speed},
		{names: []string{"c", "cancel", "stop"}, help: "cancel a running motor request", run: (*commander).stop},
		{names: []string{"h", "home"}, usage: "+|- [SIZE]", help: "home the stage to one of the limit switches", run: (*commander).home},
		{names: []string{"sp", "set_position"}, usage: "POS", help: "set the current position to POS", run: (*commander).setPosition},
		{names: []string{"gp", "get_position"}, help: "print the current position", run: (*commander).getPosition},
		{names: []string{"pwm", "led_pwm"}, usage: "DUTY", help: "set the ring light's pwm level, 0.0 - 1.0", run: (*commander).ledPWM},
		{names: []string{"v", "led_voltage"}, usage: "VOLTS", help: "hold the photosensor at VOLTS, 0.0 - 3.3", run: (*commander).ledVoltage},
		{names: []string{"kp", "led_pid_kp"}, usage: "KP", help: "set the light loop Kp", run: gainCmd(protocol.PIDProportional)},
		{names: []string{"ki", "led_pid_ki"}, usage: "KI", help: "set the light loop Ki", run: gainCmd(protocol.PIDIntegral)},
		{names: []string{"kd", "led_pid_kd"}, usage: "KD", help: "set the light loop Kd", run: gainCmd(protocol.PIDDerivative)},
		{names: []string{"d", "debounce"}, usage: "MS", help: "set the limit switch debounce delay", run: (*commander).debounce},
		{names: []string{"estop"}, help: "latch the software emergency stop", run: (*commander).estop},
		{names: []string{"eclear"}, help: "clear the software emergency stop", run: (*commander).eclear},
		{names: []string{"stepoff"}, usage: "SIZE STEPS", help: "steps run off a limit switch after it stops a move (0 disables)", run: (*commander).stepOff},
		{names: []string{"sleep"}, usage: "SECONDS", help: "wait for a while", run: (*commander).sleep},
		{names: []string{"run"}, usage: "SCRIPT", help: "run commands from a file", run: (*commander).script},
		{names: []string{"?", "help"}, help: "show this help message", run: (*commander).help, builtin: true},
		{names: []string{"q", "quit", "exit"}, help: "quit the program", run: func(*commander, []string) error { return errQuit }, builtin: true},
	}
}

func lookup(name string) (command, bool) {
	name = strings.ToLower(name)
	for _, cmd := range commands {
		for _, n := range cmd.names {
			if n == name {
				return cmd, true
			}
		}
	}
	return command{}, false
}

// parse strips a ';' comment and splits the rest shell-style
func parse(line string) ([]string, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return shlex.Split(line)
}

// Exec runs one command line
func (c *commander) Exec(line string) error {
	args, err := parse(line)
	if err != nil {
		return err
	}
	return c.ExecArgs(args)
}

// ExecArgs runs a command already split into words
func (c *commander) ExecArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("%w %q", errUnknown, args[0])
	}
	if err := cmd.run(c, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("%w: %s %s", errUsage, cmd.names[0], cmd.usage)
		}
		return err
	}
	return nil
}

// ExecGroups runs command-line arguments, where a lone ";" separates commands
func (c *commander) ExecGroups(args []string) error {
	start := 0
	for i := 0; i <= len(args); i++ {
		if i < len(args) && args[i] != ";" {
			continue
		}
		if err := c.ExecArgs(args[start:i]); err != nil {
			return err
		}
		start = i + 1
	}
	return nil
}

// RunScript executes path line by line, stopping at the first error
func (c *commander) RunScript(path string) error {
	if c.depth > 8 {
		return fmt.Errorf("%s: scripts nested too deeply", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	c.depth++
	defer func() { c.depth-- }()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		if err := c.Exec(sc.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	return sc.Err()
}

// addShellCommands exposes the command table through ishell
func (c *commander) addShellCommands(sh *ishell.Shell) {
	for _, cmd := range commands {
		if cmd.builtin {
			continue
		}
		cmd := cmd
		sh.AddCmd(&ishell.Cmd{
			Name:    cmd.names[0],
			Aliases: cmd.names[1:],
			Help:    strings.TrimSpace(cmd.usage + "  " + cmd.help),
			Func: func(ictx *ishell.Context) {
				if err := c.ExecArgs(append([]string{cmd.names[0]}, ictx.Args...)); err != nil {
					ictx.Err(err)
				}
			},
		})
	}
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func parseSize(s string) (protocol.StepSize, error) {
	d, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	size, ok := protocol.StepSizeFromDivisor(d)
	if !ok {
		return 0, fmt.Errorf("step size %d: want 1, 2, 4, 8 or 16", d)
	}
	return size, nil
}

// parseSeconds accepts plain seconds ("1.5") or a duration ("1500ms")
func parseSeconds(s string) (time.Duration, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(v * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func (c *commander) idle(args []string) error {
	st, err := c.stage.Idle(c.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, st)
	return nil
}

func (c *commander) wait(args []string) error {
	if len(args) > 2 {
		return errUsage
	}
	var timeout time.Duration
	granularity := c.cfg.Stage.WaitGranularity
	var err error
	if len(args) >= 1 {
		if timeout, err = parseSeconds(args[0]); err != nil {
			return err
		}
	}
	if len(args) == 2 {
		if granularity, err = parseSeconds(args[1]); err != nil {
			return err
		}
	}
	return c.stage.Wait(c.ctx, timeout, granularity, true)
}

func (c *commander) relative(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	n, err := parseInt32(args[0])
	if err != nil {
		return err
	}
	size, err := parseSize(args[1])
	if err != nil {
		return err
	}
	return c.stage.Relative(c.ctx, n, size, false)
}

func (c *commander) absolute(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	pos, err := parseInt32(args[0])
	if err != nil {
		return err
	}
	size := c.cfg.StepSize()
	if len(args) == 2 {
		if size, err = parseSize(args[1]); err != nil {
			return err
		}
	}
	return c.stage.Absolute(c.ctx, pos, size, false)
}

func (c *commander) speed(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	hz, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return err
	}
	return c.stage.Speed(c.ctx, uint32(hz))
}

func (c *commander) stop(args []string) error {
	return c.stage.Stop(c.ctx)
}

func (c *commander) home(args []string) error {
	if len(args) < 1 || len(args) > 2 || (args[0] != "+" && args[0] != "-") {
		return errUsage
	}
	size := c.cfg.StepSize()
	if len(args) == 2 {
		var err error
		if size, err = parseSize(args[1]); err != nil {
			return err
		}
	}
	return c.stage.Home(c.ctx, args[0] == "+", size)
}

func (c *commander) setPosition(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	pos, err := parseInt32(args[0])
	if err != nil {
		return err
	}
	return c.stage.SetPosition(c.ctx, pos)
}

func (c *commander) getPosition(args []string) error {
	pos, err := c.stage.Position(c.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Position: %d\n", pos)
	return nil
}

func (c *commander) ledPWM(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	duty, err := parseFloat32(args[0])
	if err != nil {
		return err
	}
	return c.stage.LEDPWM(c.ctx, duty)
}

func (c *commander) ledVoltage(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	v, err := parseFloat32(args[0])
	if err != nil {
		return err
	}
	return c.stage.LEDVoltage(c.ctx, v)
}

func gainCmd(term protocol.PIDTerm) func(*commander, []string) error {
	return func(c *commander, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		v, err := parseFloat32(args[0])
		if err != nil {
			return err
		}
		return c.stage.LEDGain(c.ctx, term, v)
	}
}

func (c *commander) debounce(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ms, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return err
	}
	return c.stage.Debounce(c.ctx, time.Duration(ms)*time.Millisecond)
}

func (c *commander) estop(args []string) error {
	return c.stage.EmergencyStop(c.ctx)
}

func (c *commander) eclear(args []string) error {
	return c.stage.EmergencyClear(c.ctx)
}

func (c *commander) stepOff(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	size, err := parseSize(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return err
	}
	return c.stage.StepOff(c.ctx, size, uint32(n))
}

func (c *commander) sleep(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	d, err := parseSeconds(args[0])
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(d):
	}
	return nil
}

func (c *commander) script(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return c.RunScript(args[0])
}

func (c *commander) help(args []string) error {
	for _, cmd := range commands {
		name := strings.Join(cmd.names, ", ")
		if cmd.usage != "" {
			name += " " + cmd.usage
		}
		fmt.Fprintf(c.out, "%-32s %s\n", name, cmd.help)
	}
	return nil
}
