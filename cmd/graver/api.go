package main

import (
	"encoding/json"
	"errors"
	stdlog "log"
	"net/http"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine"
)

const historyChannel = "/events/history"

type api struct {
	http.Handler
	m       Machine
	history *machine.History
	sse     *sse.Server
	events  chan machine.Event
}

func newAPI(m Machine, h *machine.History) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		history: h,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(log.Logger.With().Str("component", "sse").Logger(), "", 0),
		}),
		events: make(chan machine.Event, 1000),
	}

	r.HandleFunc("/api/position", a.getPosition).Methods("GET")
	r.HandleFunc("/api/position", a.setPosition).Methods("POST")
	r.HandleFunc("/api/history", a.getHistory).Methods("GET")
	r.HandleFunc("/api/move", a.move).Methods("POST")
	r.HandleFunc("/api/endstops", a.endstops).Methods("GET")
	r.HandleFunc("/api/motors", a.motors).Methods("POST")
	r.HandleFunc("/api/trace", a.trace).Methods("POST")
	r.HandleFunc("/api/tool", a.tool).Methods("POST")
	r.PathPrefix("/events/").Handler(a.sse)

	// history observers run under the history lock, so hand events off
	h.Subscribe(machine.ObserverFunc(func(e machine.Event) {
		select {
		case a.events <- e:
		default:
			log.Warn().Str("event", e.Kind.String()).Msg("history event dropped")
		}
	}))
	go func() {
		for e := range a.events {
			data, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Msg("marshal json")
				continue
			}
			a.sse.SendMessage(historyChannel, sse.SimpleMessage(string(data)))
		}
	}()

	return a
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("encode")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, machine.ErrArgument), errors.Is(err, machine.ErrConfiguration):
		code = http.StatusBadRequest
	case errors.Is(err, machine.ErrConnectionState):
		code = http.StatusConflict
	case errors.Is(err, machine.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, machine.ErrInvalidReply):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), code)
}

// formValues reads the axis values present in the request form.
func formValues(req *http.Request) (coord.Values, error) {
	err := req.ParseForm()
	if err != nil {
		return nil, err
	}
	raw := make(map[string]float64)
	for name := range req.Form {
		if _, ok := coord.ParseAxis(name); !ok {
			continue
		}
		val, err := strconv.ParseFloat(req.Form.Get(name), 64)
		if err != nil {
			return nil, err
		}
		raw[name] = val
	}
	return coord.FilterValues(raw), nil
}

func (a *api) getPosition(w http.ResponseWriter, req *http.Request) {
	p, err := a.m.GetPosition()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, p)
}

func (a *api) setPosition(w http.ResponseWriter, req *http.Request) {
	v, err := formValues(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sent, err := a.m.SetPosition(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, Result{Sent: sent})
}

func (a *api) getHistory(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, a.history.Segments())
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	v, err := formValues(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sent, err := a.m.Move(req.FormValue("relative") == "1", v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, Result{Sent: sent})
}

func (a *api) endstops(w http.ResponseWriter, req *http.Request) {
	state, err := a.m.ProbeEndstops()
	if err != nil {
		writeError(w, err)
		return
	}
	res := make(map[string]bool, len(state))
	for axis, triggered := range state {
		res[axis.String()] = triggered
	}
	writeJSON(w, res)
}

func (a *api) motors(w http.ResponseWriter, req *http.Request) {
	sent, err := a.m.SwitchMotors(req.FormValue("on") == "1")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, Result{Sent: sent})
}

func (a *api) trace(w http.ResponseWriter, req *http.Request) {
	var body TraceRequest
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sent, err := a.m.Trace(machine.Path{X: body.X, Y: body.Y, Z: body.Z, C: body.C})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, Result{Sent: sent})
}

func (a *api) tool(w http.ResponseWriter, req *http.Request) {
	var err error
	parse := func(param string) (val float64, ok bool) {
		str := req.FormValue(param)
		if err != nil || str == "" {
			return 0, false
		}
		val, err = strconv.ParseFloat(str, 64)
		return val, err == nil
	}
	size, setSize := parse("size")
	rate, setRate := parse("feedRate")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if setSize {
		err = a.m.SetToolSize(size)
	}
	if err == nil && setRate {
		err = a.m.SetFeedRate(rate)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
