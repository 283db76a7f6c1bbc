package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mastercactapus/graver/config"
	"github.com/mastercactapus/graver/journal"
	"github.com/mastercactapus/graver/machine"
	"github.com/mastercactapus/graver/machine/marlin"
	"github.com/mastercactapus/graver/spjs"
	"github.com/mastercactapus/graver/vm"
)

func main() {
	configFile := flag.String("config", "", "YAML config file.")
	port := flag.String("port", "/dev/ttyUSB0", "Port path (or name if using SPJS).")
	baud := flag.Int("baud", machine.DefaultBaudRate, "Serial baud rate.")
	spjsURL := flag.String("spjs", "", "Websocket URL of the SPJS server to use, e.g. ws://cnc-bridge:8989/ws.")
	addr := flag.String("addr", ":9091", "Address to bind the API server to.")
	journalFile := flag.String("journal", "", "SQLite file to record motion history to.")
	sim := flag.Bool("sim", false, "Drive a virtual machine instead of real hardware.")
	list := flag.Bool("list", false, "List serial ports and exit.")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error).")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("parse log level")
	}
	zerolog.SetGlobalLevel(lvl)

	if *list {
		ports, err := marlin.ListPorts()
		if err != nil {
			log.Fatal().Err(err).Msg("list ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := &config.Config{}
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "baud":
			cfg.BaudRate = baud
		case "spjs":
			cfg.SPJSURL = *spjsURL
		case "addr":
			cfg.ListenAddress = *addr
		case "journal":
			cfg.Journal = *journalFile
		}
	})
	if cfg.Port == "" {
		cfg.Port = *port
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// m is set below, before anything opens the connection.
	var m *machine.Machine
	var open marlin.Opener
	switch {
	case *sim:
		log.Info().Msg("using virtual machine")
		open = vm.NewDevice().Open
	case cfg.SPJSURL != "":
		c := spjs.NewClient(cfg.SPJSURL)
		defer c.Close()
		open = func(port string, baud int) (io.ReadWriteCloser, error) {
			return c.OpenTerm(port, baud, m.Terminator())
		}
	default:
		open = marlin.OpenSerial
	}

	m = machine.NewWithOpener(cfg.Port, open)
	err = cfg.Apply(m)
	if err != nil {
		log.Fatal().Err(err).Msg("apply config")
	}

	if cfg.Journal != "" {
		j, err := startJournal(ctx, m.History(), cfg.Journal)
		if err != nil {
			log.Fatal().Err(err).Msg("open journal")
		}
		defer j.Close()
	}

	s := machine.NewSync(context.Background(), m)
	defer s.Stop()
	err = s.Open()
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Port).Msg("open machine")
	}
	defer s.Close()

	api := newAPI(s, m.History())
	defer api.sse.Shutdown()
	srv := &http.Server{
		Addr: cfg.ListenAddress,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("request")
			api.ServeHTTP(w, req)
		}),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddress).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("serve")
	}
}

// startJournal opens the journal at path and records h into it.
func startJournal(ctx context.Context, h *machine.History, path string) (*journal.Journal, error) {
	j, err := journal.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	h.Subscribe(j)
	log.Info().Str("file", path).Int64("run", j.Run()).Msg("journal started")
	return j, nil
}
