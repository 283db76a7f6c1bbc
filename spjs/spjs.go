// Package spjs is a client for serial-port-json-server, which shares
// serial ports over a websocket.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// reconnectDelay is how long the client waits before dialing again.
var reconnectDelay = 3 * time.Second

// Client keeps a websocket connection to one server open, redialing
// whenever it drops.
type Client struct {
	url string

	mx          sync.RWMutex
	serialPorts []SerialPort
	ports       map[string]*Port

	outgoing  chan message
	incomming chan interface{}
	stop      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name                      string
	Friendly                  string
	SerialNumber              string
	DeviceClass               string
	IsOpen                    bool
	IsPrimary                 bool
	RelatedNames              []string
	Baud                      int
	BufferAlgorithm           string
	AvailableBufferAlgorithms []string
	Ver                       float64
	USBVID                    string
	USBPID                    string
	FeedRateOverride          float64
}

// ErrClosed is returned when using a stopped client.
var ErrClosed = errors.New("spjs: client closed")

// NewClient starts connecting to the server at url, e.g.
// "ws://localhost:8989/ws".
func NewClient(url string) *Client {
	c := &Client{
		url:       url,
		ports:     make(map[string]*Port),
		outgoing:  make(chan message, 1000),
		incomming: make(chan interface{}, 1000),
		stop:      make(chan struct{}),
	}

	go c.loop()

	return c
}

// Messages returns server messages that are not serial data for an open
// Port. Messages are dropped when nobody keeps up with them.
func (c *Client) Messages() chan interface{} {
	return c.incomming
}

// SerialPorts returns the port list from the last "list" reply.
func (c *Client) SerialPorts() []SerialPort {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return append([]SerialPort(nil), c.serialPorts...)
}

// Close stops reconnecting and drops the websocket.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func parseMessage(data []byte, msg map[string]json.RawMessage) (val interface{}, err error) {
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Type", &CmdStatus{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (c *Client) dispatch(val interface{}) {
	switch msg := val.(type) {
	case *DataFrame:
		c.mx.RLock()
		p := c.ports[msg.Port]
		c.mx.RUnlock()
		if p != nil {
			p.deliver(msg.Data)
			return
		}
	case *SerialPortList:
		c.mx.Lock()
		c.serialPorts = msg.SerialPorts
		c.mx.Unlock()
	case *ErrorMessage:
		log.Error().Str("url", c.url).Msg(msg.Error)
	}

	select {
	case c.incomming <- val:
	default:
		log.Warn().Msgf("spjs: dropped message %T", val)
	}
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Error().Err(err).Msg("spjs: read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			log.Error().Err(err).Msg("spjs: read")
			continue
		}
		val, err := parseMessage(data, msg)
		if err != nil {
			log.Error().Err(err).Msg("spjs: parse")
			continue
		}
		c.dispatch(val)
	}
}

func (c *Client) loop() {
	var nextUp message

reconnect:
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		log.Info().Str("url", c.url).Msg("spjs: connecting")
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			log.Error().Err(err).Msg("spjs: connect")
			select {
			case <-time.After(reconnectDelay):
			case <-c.stop:
				return
			}
			continue
		}
		log.Info().Str("url", c.url).Msg("spjs: connected")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)
		go c.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					log.Error().Err(err).Msg("spjs: send")
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-ch:
				continue reconnect
			case <-c.stop:
				ws.Close()
				return
			case nextUp = <-c.outgoing:
			}
		}
	}
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func (c *Client) send(payload []byte) error {
	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: payload}:
	case <-c.stop:
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-c.stop:
		return ErrClosed
	}
}

// SendJSON queues v with the sendjson command and waits until it is
// written to the websocket.
func (c *Client) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		// shouldn't happen since we control everything that's sent out
		log.Panic().Err(err).Msg("spjs: sendjson (marshal)")
	}
	return c.send(append([]byte("sendjson "), data...))
}

// WriteString sends a raw server command such as "list".
func (c *Client) WriteString(data string) error {
	return c.send([]byte(data))
}
