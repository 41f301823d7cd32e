package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/classcall/classcall/server"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/command"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

type serverHandler struct {
	args struct {
		config string
	}

	log    logger.Logger
	props  Props
	config server.Config
	store  store.Store
	mux    *server.Mux
	server *server.Server
}

func (h *serverHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	flags.StringVarP(&h.args.config, "config", "c", "", "config file to use")
}

func (h *serverHandler) Handle(ctx context.Context, args []string) error {
	if err := h.configure(); err != nil {
		return errors.Trace(err)
	}

	defer h.store.Close()

	listener, err := net.Listen("tcp", net.JoinHostPort(
		h.config.BindHost,
		strconv.Itoa(h.config.BindPort),
	))
	if err != nil {
		return errors.Annotate(err, "listen")
	}

	defer listener.Close()

	h.server = server.New(server.Params{
		TLSCertFile: h.config.TLS.Cert,
		TLSKeyFile:  h.config.TLS.Key,
	}, h.mux)

	addr, _ := listener.Addr().(*net.TCPAddr)
	h.log.Info("Listen", logger.Ctx{
		"local_addr": addr,
	})

	err = h.server.Start(ctx, listener)

	return errors.Trace(err)
}

func (h *serverHandler) configure() (err error) {
	configFiles := []string{}
	if h.args.config != "" {
		configFiles = append(configFiles, h.args.config)
	}

	h.config, err = server.ReadConfig(configFiles)
	if err != nil {
		return errors.Annotate(err, "read config")
	}

	c := h.config

	h.log.Info(fmt.Sprintf("Using config: %+v", c), nil)

	clk := clock.New()

	h.store = server.NewStore(h.log, clk, c.Store)
	h.mux = server.NewMux(
		h.log, c.BaseURL, h.props.Version, clk, h.store, c.ICEServers, c.Prometheus)

	return nil
}

func newServerCmd(props Props) *command.Command {
	h := &serverHandler{
		log:   props.Log,
		props: props,
	}

	return command.New(command.Params{
		Name:         "server",
		Desc:         "Starts the classcall signaling server (default)",
		FlagRegistry: h,
		Handler:      h,
	})
}
