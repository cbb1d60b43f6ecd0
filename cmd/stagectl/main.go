// Command stagectl drives a stage controller from an interactive shell,
// command-line arguments or scripts.
//
//	stagectl -dev /dev/ttyUSB0            interactive shell
//	stagectl -e r 200 16 \; w             commands, then exit
//	stagectl -sim run scripts/scan.txt    against the simulated board
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"stagefw/core"
	"stagefw/host/config"
	"stagefw/host/serial"
	"stagefw/host/stage"
	"stagefw/sim"
)

var (
	configPath = flag.String("config", "", "TOML configuration file")
	device     = flag.String("dev", "", "Serial device (overrides [serial] device; empty discovers)")
	useSim     = flag.Bool("sim", false, "Run against the simulated board")
	evalOnly   = flag.Bool("e", false, "Evaluation only, no interactive shell.")
)

const prompt = "stage > "

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil && !errors.Is(err, errQuit) {
		fmt.Fprintf(os.Stderr, "stagectl: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	port, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	st := stage.New(port)
	defer st.Close()
	st.SetReplyTimeout(cfg.Stage.ReplyTimeout)

	if cfg.Stage.Speed != 0 {
		if err := st.Speed(ctx, cfg.Stage.Speed); err != nil {
			return fmt.Errorf("setting speed: %w", err)
		}
	}

	c := &commander{ctx: ctx, stage: st, cfg: cfg, out: os.Stdout}

	if err := c.ExecGroups(flag.Args()); err != nil || *evalOnly {
		return err
	}
	return shell(c)
}

// connect opens the simulated board, the configured device or the first
// discovered port that answers an idle request
func connect(ctx context.Context, cfg config.Config) (io.ReadWriteCloser, error) {
	if *useSim {
		b := sim.New(core.DefaultConfig(), cfg.SimOptions())
		go b.Run(ctx)
		glog.Info("using simulated board")
		return b.Port(), nil
	}

	sc := cfg.SerialConfig()
	if sc.Device != "" {
		port, err := serial.Open(sc)
		if err != nil {
			return nil, err
		}
		glog.Infof("connected to %s", sc.Device)
		return port, nil
	}

	port, name, err := serial.Discover(sc, func(p serial.Port) error {
		return stage.Probe(p, cfg.Stage.ReplyTimeout)
	})
	if err != nil {
		return nil, err
	}
	glog.Infof("discovered controller on %s", name)
	return port, nil
}

// shell runs the interactive ishell loop until quit or end of input
func shell(c *commander) error {
	sh := ishell.New()
	sh.SetPrompt(prompt)
	c.addShellCommands(sh)
	sh.Printf("Stage controller shell. Type 'help' for commands.\n")
	sh.Run()
	return nil
}
