// Command godpd runs a PROFIBUS-DP class-1 master from a YAML
// configuration file: it brings up every configured slave and keeps
// ticking the scheduler until terminated.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mbuesch/godp/config"
	"github.com/mbuesch/godp/dp"
	"github.com/mbuesch/godp/fdl"
	"github.com/mbuesch/godp/phy"
)

var (
	loglevel int
	nice     int
)

var rootCmd = &cobra.Command{
	Use:   "godpd <config.yaml>",
	Short: "godpd runs a PROFIBUS-DP class-1 master from a YAML configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().IntVar(&loglevel, "loglevel", 1, "log verbosity: 0=warn, 1=info, 2=debug")
	rootCmd.Flags().IntVar(&nice, "nice", 0, "process scheduling priority adjustment, see setpriority(2)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "godpd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	switch {
	case loglevel <= 0:
		log.SetLevel(logrus.WarnLevel)
	case loglevel == 1:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.DebugLevel)
	}

	if nice != 0 {
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, nice); err != nil {
			log.WithError(err).Warn("failed to adjust process priority")
		}
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cmd.Flags().Changed("loglevel") {
		switch cfg.Profibus.Debug {
		case 0:
			log.SetLevel(logrus.WarnLevel)
		case 1:
			log.SetLevel(logrus.InfoLevel)
		default:
			log.SetLevel(logrus.DebugLevel)
		}
	}

	phyDrv, err := openPHY(cfg.PHY)
	if err != nil {
		return err
	}

	profile := fdl.NewProfile(cfg.PHY.Baud)
	master := dp.NewMaster(cfg.DP.MasterAddr, phyDrv, profile, log)

	for _, desc := range cfg.Build() {
		if _, err := master.Register(desc); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		<-sig
		log.Info("signal received, shutting down")
		if err := master.Shutdown(); err != nil {
			log.WithError(err).Warn("error while shutting down PHY")
		}
		close(stop)
	}()

	return tickLoop(master, log, stop)
}

func tickLoop(master *dp.Master, log *logrus.Logger, stop chan struct{}) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	wasConnected := false
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := master.Tick(); err != nil {
				log.WithError(err).Debug("tick reported a slave fault")
			}
			connected := master.IsConnected()
			if connected != wasConnected {
				log.WithField("connected", connected).Info("overall connection state changed")
				wasConnected = connected
			}
		}
	}
}

func openPHY(cfg config.PHYConfig) (phy.Driver, error) {
	pc := phy.Config{Baud: cfg.Baud, Parity: phy.ParityEven, Data: 8, Stop: 1}

	var drv phy.Driver
	switch cfg.Type {
	case "serial":
		drv = phy.NewSerial(cfg.Dev)
	case "dummy":
		drv = phy.NewLoopback(time.Millisecond)
	case "dummy_slave":
		drv = phy.NewDummySlave(time.Millisecond, nil)
	case "fpga":
		return nil, fmt.Errorf("phy.type %q is a recognized driver seam but has no implementation", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown phy.type %q", cfg.Type)
	}
	if err := drv.Open(pc); err != nil {
		return nil, err
	}
	return drv, nil
}
