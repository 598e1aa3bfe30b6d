package printer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned for calls made while the websocket is down
// and a reconnect attempt fails.
var ErrNotConnected = errors.New("moonraker: not connected")

// DefaultURL is the websocket endpoint of a local Moonraker instance.
const DefaultURL = "ws://localhost:7125/websocket"

const callTimeout = 10 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("moonraker: rpc error %d: %s", e.Code, e.Message)
}

// Moonraker talks to a Klipper host through Moonraker's JSON-RPC websocket.
// It reconnects lazily on the next call after the connection drops.
type Moonraker struct {
	url    string
	logger *slog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan rpcResponse
	heaters map[string]string // heater id -> Klipper object name
}

// NewMoonraker creates a client for the given websocket URL. No connection
// is made until Connect or the first call.
func NewMoonraker(url string, logger *slog.Logger) *Moonraker {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Moonraker{
		url:     url,
		logger:  logger.With("component", "moonraker"),
		pending: make(map[int64]chan rpcResponse),
	}
}

// Connect dials the websocket and discovers the printer's heaters.
func (m *Moonraker) Connect(ctx context.Context) error {
	if err := m.dial(ctx); err != nil {
		return err
	}
	return m.discoverHeaters(ctx)
}

// Close drops the connection. Pending calls fail.
func (m *Moonraker) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether the websocket is up.
func (m *Moonraker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Moonraker) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrNotConnected, m.url, err)
	}

	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.url)
	go m.readLoop(conn)
	return nil
}

func (m *Moonraker) readLoop(conn *websocket.Conn) {
	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			m.dropConn(conn, err)
			return
		}
		if resp.ID == nil {
			// Notification (notify_status_update and friends); not used.
			continue
		}

		m.mu.Lock()
		ch, ok := m.pending[*resp.ID]
		delete(m.pending, *resp.ID)
		m.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (m *Moonraker) dropConn(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	pending := m.pending
	m.pending = make(map[int64]chan rpcResponse)
	m.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	m.logger.Warn("connection lost", "error", err)
}

func (m *Moonraker) call(ctx context.Context, method string, params, result any) error {
	m.mu.Lock()
	connected := m.conn != nil
	m.mu.Unlock()
	if !connected {
		if err := m.dial(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.nextID++
	id := m.nextID
	ch := make(chan rpcResponse, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	m.writeMu.Unlock()
	if err != nil {
		m.forget(id)
		return fmt.Errorf("moonraker: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: %s interrupted", ErrNotConnected, method)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("moonraker: decode %s: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		m.forget(id)
		return fmt.Errorf("moonraker: %s: %w", method, ctx.Err())
	}
}

func (m *Moonraker) forget(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Moonraker) discoverHeaters(ctx context.Context) error {
	var res struct {
		Objects []string `json:"objects"`
	}
	if err := m.call(ctx, "printer.objects.list", nil, &res); err != nil {
		return err
	}

	heaters := make(map[string]string)
	for _, obj := range res.Objects {
		if id, ok := HeaterID(obj); ok {
			heaters[id] = obj
		}
	}

	m.mu.Lock()
	m.heaters = heaters
	m.mu.Unlock()
	m.logger.Debug("heaters discovered", "count", len(heaters))
	return nil
}

func (m *Moonraker) heaterObjects(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	heaters := m.heaters
	m.mu.Unlock()
	if heaters != nil {
		return heaters, nil
	}
	if err := m.discoverHeaters(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heaters, nil
}

// HeaterID maps a Klipper object name to a heater id:
// extruder -> tool0, extruderN -> toolN, heater_bed -> bed,
// "heater_generic NAME" -> NAME.
func HeaterID(object string) (string, bool) {
	switch {
	case object == "extruder":
		return "tool0", true
	case strings.HasPrefix(object, "extruder"):
		n, err := strconv.Atoi(strings.TrimPrefix(object, "extruder"))
		if err != nil {
			return "", false
		}
		return "tool" + strconv.Itoa(n), true
	case object == "heater_bed":
		return "bed", true
	case strings.HasPrefix(object, "heater_generic "):
		return strings.TrimPrefix(object, "heater_generic "), true
	default:
		return "", false
	}
}

// heaterParam is the HEATER= value SET_HEATER_TEMPERATURE expects.
func heaterParam(object string) string {
	return strings.TrimPrefix(object, "heater_generic ")
}

type queryResult struct {
	Status map[string]map[string]any `json:"status"`
}

func (m *Moonraker) printState(ctx context.Context) (string, error) {
	var res queryResult
	params := map[string]any{"objects": map[string][]string{"print_stats": {"state"}}}
	if err := m.call(ctx, "printer.objects.query", params, &res); err != nil {
		return "", err
	}
	state, _ := res.Status["print_stats"]["state"].(string)
	return state, nil
}

// IsPrinting reports whether print_stats.state is "printing".
func (m *Moonraker) IsPrinting(ctx context.Context) (bool, error) {
	state, err := m.printState(ctx)
	return state == "printing", err
}

// IsPaused reports whether print_stats.state is "paused".
func (m *Moonraker) IsPaused(ctx context.Context) (bool, error) {
	state, err := m.printState(ctx)
	return state == "paused", err
}

// Temperatures queries target and temperature of every known heater.
func (m *Moonraker) Temperatures(ctx context.Context) (Snapshot, error) {
	heaters, err := m.heaterObjects(ctx)
	if err != nil {
		return nil, err
	}

	objects := make(map[string][]string, len(heaters))
	for _, obj := range heaters {
		objects[obj] = []string{"temperature", "target"}
	}

	var res queryResult
	if err := m.call(ctx, "printer.objects.query", map[string]any{"objects": objects}, &res); err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(heaters))
	for id, obj := range heaters {
		st, ok := res.Status[obj]
		if !ok {
			continue
		}
		snap[id] = Heater{Target: st["target"], Actual: st["temperature"]}
	}
	return snap, nil
}

// SetHeaterTarget runs SET_HEATER_TEMPERATURE for the heater.
func (m *Moonraker) SetHeaterTarget(ctx context.Context, heater string, target float64) error {
	heaters, err := m.heaterObjects(ctx)
	if err != nil {
		return err
	}
	obj, ok := heaters[heater]
	if !ok {
		return fmt.Errorf("moonraker: unknown heater %q (have %s)", heater, strings.Join(sortedKeys(heaters), ", "))
	}

	script := fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=%s",
		heaterParam(obj), strconv.FormatFloat(target, 'f', -1, 64))
	return m.call(ctx, "printer.gcode.script", map[string]string{"script": script}, nil)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
