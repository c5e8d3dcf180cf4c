package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iceoryx2-go/iceoryx2/pkg/config"
	"github.com/iceoryx2-go/iceoryx2/pkg/ipclog"
	"github.com/iceoryx2-go/iceoryx2/pkg/node"
	"github.com/iceoryx2-go/iceoryx2/pkg/shm/staticstore"
)

const version = "unversioned"

var rootOverride string

func main() {
	flaggy.SetName("iceoryx2-discovery")
	flaggy.SetDescription("List services visible to the calling user")
	flaggy.String(&rootOverride, "r", "root", "Override the configured filesystem root")
	flaggy.SetVersion(version)
	flaggy.Parse()

	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		log.Println(errors.Wrap(err, 0).ErrorStack())
		return err
	}
	if rootOverride != "" {
		cfg.Root = rootOverride
	}

	logger := ipclog.New(cfg)

	if err := runDiscovery(cfg, logger); err != nil {
		stackTrace := errors.Wrap(err, 0).ErrorStack()
		logger.Error(stackTrace)
		log.Println(stackTrace)
		return err
	}
	return nil
}

func runDiscovery(cfg config.Global, logger *logrus.Entry) error {
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	services, err := n.ListServices()
	if err != nil {
		return err
	}

	eventServices := lo.Filter(services, func(s staticstore.StaticConfig, _ int) bool {
		return s.Pattern == "Event"
	})
	logger.WithField("count", len(eventServices)).Info("discovery scan complete")

	for _, s := range eventServices {
		fmt.Printf("%s\n  pattern:          %s\n  max_notifiers:    %d\n  max_listeners:    %d\n  event_id_max:     %d\n  creator_pid:      %d\n",
			s.ServiceName, s.Pattern, s.Event.MaxNotifiers, s.Event.MaxListeners, s.Event.EventIDMaxValue, s.CreatorPID)
	}

	others := len(services) - len(eventServices)
	if others > 0 {
		fmt.Printf("(%d service(s) with an unrecognized pattern skipped)\n", others)
	}

	return nil
}
