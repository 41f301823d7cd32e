package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/classcall/classcall/server"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/command"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/negotiator"
	"github.com/classcall/classcall/server/rtc"
	"github.com/classcall/classcall/server/session"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

type sessionHandler struct {
	args struct {
		config  string
		room    string
		role    string
		gateway string
	}

	log    logger.Logger
	config server.Config
	role   store.Role
}

func (h *sessionHandler) RegisterFlags(c *command.Command, flags *pflag.FlagSet) {
	flags.StringVarP(&h.args.config, "config", "c", "", "config file to use")
	flags.StringVarP(&h.args.room, "room", "r", "", "room to join")
	flags.StringVar(&h.args.role, "role", "tutor", "session role: tutor or student")
	flags.StringVarP(&h.args.gateway, "gateway", "g", "",
		"signaling gateway URL (example: ws://localhost:3000/ws), uses the configured store directly when empty")
}

func (h *sessionHandler) configure() (err error) {
	configFiles := []string{}
	if h.args.config != "" {
		configFiles = append(configFiles, h.args.config)
	}

	h.config, err = server.ReadConfig(configFiles)
	if err != nil {
		return errors.Annotate(err, "read config")
	}

	if h.args.room == "" {
		return errors.New("missing required flag: --room")
	}

	switch store.Role(h.args.role) {
	case store.RoleTutor, store.RoleStudent:
		h.role = store.Role(h.args.role)
	default:
		return errors.Errorf("invalid role: %s", h.args.role)
	}

	return nil
}

func (h *sessionHandler) Handle(ctx context.Context, args []string) error {
	if err := h.configure(); err != nil {
		return errors.Trace(err)
	}

	clk := clock.New()

	st, err := h.newStore(ctx, clk)
	if err != nil {
		return errors.Trace(err)
	}

	defer st.Close()

	iceServers := server.WebRTCICEServers(
		server.GetICEAuthServers(clk, h.config.ICEServers))

	factory, err := rtc.NewFactory(rtc.FactoryParams{
		Log:        h.log,
		Clock:      clk,
		ICEServers: iceServers,
	})
	if err != nil {
		return errors.Trace(err)
	}

	pipeline := media.NewPipeline(h.log, media.NewRTPSource(h.log, clk))

	terminated := make(chan session.TerminationReason, 1)

	controller := session.New(session.Params{
		Log:   h.log,
		Store: st,
		Media: pipeline,
		NewPeerConnection: func() (negotiator.PeerConnection, error) {
			return factory.NewPeerConnection()
		},
		Clock:        clk,
		RoomID:       store.RoomID(h.args.room),
		Role:         h.role,
		Backoff:      time.Duration(h.config.Session.ReconnectBackoffMs) * time.Millisecond,
		PingInterval: time.Duration(h.config.Session.PingIntervalMs) * time.Millisecond,
		OnTerminated: func(reason session.TerminationReason) {
			terminated <- reason
		},
	})

	// The session outlives the command context: interrupts are confirmed
	// below instead of aborting mid-call.
	sessionCtx := context.Background()

	if h.role == store.RoleTutor {
		err = controller.Start(sessionCtx)
	} else {
		err = controller.Join(sessionCtx)
	}

	if err != nil {
		return errors.Trace(err)
	}

	go h.printStates(controller)
	go h.printChat(sessionCtx, controller)
	go h.readCommands(sessionCtx, controller, pipeline)

	reason := h.waitForEnd(clk, controller, terminated)

	h.log.Info("Session ended", logger.Ctx{
		"reason": reason,
	})

	return nil
}

// waitForEnd blocks until the session terminates. A lone interrupt while
// the session is active only warns; a second interrupt within the grace
// window confirms the leave. SIGTERM leaves immediately.
func (h *sessionHandler) waitForEnd(
	clk clock.Clock,
	controller *session.Controller,
	terminated <-chan session.TerminationReason,
) session.TerminationReason {
	const leaveGraceWindow = 5 * time.Second

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	var lastInterrupt time.Time

	for {
		select {
		case sig := <-sigCh:
			now := clk.Now()

			if sig == syscall.SIGINT && now.Sub(lastInterrupt) > leaveGraceWindow {
				lastInterrupt = now

				fmt.Println("Session is active. Interrupt again within 5s to leave.")

				continue
			}

			if err := controller.Leave(); err != nil {
				h.log.Error("Leave", errors.Trace(err), nil)
			}

			return <-terminated
		case reason := <-terminated:
			return reason
		}
	}
}

func (h *sessionHandler) newStore(ctx context.Context, clk clock.Clock) (store.Store, error) {
	if h.args.gateway != "" {
		st, err := store.DialWS(ctx, h.log, h.args.gateway)

		return st, errors.Trace(err)
	}

	return server.NewStore(h.log, clk, h.config.Store), nil
}

func (h *sessionHandler) printStates(controller *session.Controller) {
	for state := range controller.Events() {
		h.log.Info("Negotiation state changed", logger.Ctx{
			"state": state,
		})
	}
}

func (h *sessionHandler) printChat(ctx context.Context, controller *session.Controller) {
	histories, unsubscribe, err := controller.Chat().Subscribe(ctx)
	if err != nil {
		h.log.Error("Subscribe chat", errors.Trace(err), nil)

		return
	}

	defer unsubscribe()

	seen := 0

	for history := range histories {
		for _, message := range history[seen:] {
			fmt.Printf("[%s] %s: %s\n",
				message.Timestamp.Format("15:04:05"), message.Sender, message.Text)
		}

		seen = len(history)
	}
}

// readCommands turns stdin lines into session actions. Plain lines are sent
// as chat messages.
func (h *sessionHandler) readCommands(
	ctx context.Context,
	controller *session.Controller,
	pipeline *media.Pipeline,
) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/leave":
			if err := controller.Leave(); err != nil {
				h.log.Error("Leave", errors.Trace(err), nil)
			}

			return
		case "/away":
			if err := controller.StepAway(); err != nil {
				h.log.Error("Step away", errors.Trace(err), nil)
			}
		case "/resume":
			controller.Resume()
		case "/mute":
			fmt.Println("audio enabled:", pipeline.ToggleAudio())
		case "/video":
			fmt.Println("video enabled:", pipeline.ToggleVideo())
		case "/share":
			if err := pipeline.StartScreenShare(ctx); err != nil {
				h.log.Error("Start screen share", errors.Trace(err), nil)
			}
		case "/unshare":
			pipeline.StopScreenShare()
		default:
			if err := controller.Chat().Send(line); err != nil {
				h.log.Error("Send chat message", errors.Trace(err), nil)
			}
		}
	}
}

func newSessionCmd(props Props) *command.Command {
	h := &sessionHandler{
		log: props.Log,
	}

	return command.New(command.Params{
		Name:         "session",
		Desc:         "Joins a tutoring session as a headless peer",
		FlagRegistry: h,
		Handler:      h,
	})
}
