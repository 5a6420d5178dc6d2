package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fractal_bot/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// State - стадия соединения с площадкой.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateAppAuthenticated
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAppAuthenticated:
		return "app_authenticated"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	AccountID    int64

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	OrderTimeout      time.Duration
	HeartbeatInterval time.Duration

	RateLimit   float64
	RateBurst   int
	EventBuffer int
}

func (c *Config) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 20 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

type result struct {
	frame Frame
	err   error
}

type waiter struct {
	expect int
	ch     chan result
}

// session - одно websocket-соединение со своей таблицей ожидающих запросов.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	ready   atomic.Bool

	pendMu  sync.Mutex
	pending map[string]*waiter
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) write(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *session) register(id string, w *waiter) error {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	s.pending[id] = w
	return nil
}

// take снимает waiter из таблицы; nil, если его уже забрали (таймаут или закрытие).
func (s *session) take(id string) *waiter {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	w, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return w
}

func (s *session) rejectAll(err error) int {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	s.closed = true
	n := len(s.pending)
	for id, w := range s.pending {
		w.ch <- result{err: err}
		delete(s.pending, id)
	}
	return n
}

// Client - единственное постоянное соединение с cTrader Open API.
// Вызывающие не управляют сокетом: всё идёт через EnsureReady.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	events  chan ExecutionEvent

	connMu sync.Mutex // EnsureReady / Reconnect / Close

	sessMu sync.RWMutex
	sess   *session

	state atomic.Int32
	seq   atomic.Uint64

	symMu   sync.RWMutex
	symbols map[string]int64

	// события, не влезшие в events; отдаются по порядку отдельной горутиной
	spillMu  sync.Mutex
	spill    []ExecutionEvent
	spilling bool

	stateHook func(State)
}

func NewClient(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		events:  make(chan ExecutionEvent, cfg.EventBuffer),
		symbols: make(map[string]int64),
	}
}

// OnStateChange - колбэк для health; вызывается синхронно, не блокировать.
func (c *Client) OnStateChange(fn func(State)) {
	c.stateHook = fn
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Events - поток execution events (и ответных, и незапрошенных).
func (c *Client) Events() <-chan ExecutionEvent {
	return c.events
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		logger.Debug("[VENUE] state %s -> %s", old, s)
		if c.stateHook != nil {
			c.stateHook(s)
		}
	}
}

func (c *Client) current() *session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.sess
}

// EnsureReady - no-op для живого авторизованного соединения, иначе
// закрывает старое (отклоняя ожидающие вызовы) и проходит connect+auth заново.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if s := c.current(); s != nil && s.ready.Load() {
		return nil
	}
	c.teardown()
	return c.connect(ctx)
}

// Reconnect - принудительный разрыв и новое подключение.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	logger.Info("[VENUE] forced reconnect")
	c.teardown()
	return c.connect(ctx)
}

func (c *Client) Close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.teardown()
}

// readySession - сессия, прошедшая авторизацию.
func (c *Client) readySession(ctx context.Context) (*session, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	s := c.current()
	if s == nil || !s.ready.Load() {
		return nil, ErrConnectionClosed
	}
	return s, nil
}

func (c *Client) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dctx, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("ctrader dial %s: %w", c.cfg.Endpoint, err)
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &session{
		conn:    conn,
		pending: make(map[string]*waiter),
		cancel:  scancel,
		done:    make(chan struct{}),
	}
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
	c.setState(StateConnected)
	c.run(sctx, s)

	if err := c.authenticate(ctx, s); err != nil {
		c.teardown()
		return fmt.Errorf("ctrader auth: %w", err)
	}
	s.ready.Store(true)
	c.setState(StateReady)
	logger.Info("[VENUE] connected and authenticated, account=%d", c.cfg.AccountID)
	return nil
}

func (c *Client) authenticate(ctx context.Context, s *session) error {
	_, err := c.roundTrip(ctx, s, PayloadAppAuthReq, map[string]any{
		"clientId":     c.cfg.ClientID,
		"clientSecret": c.cfg.ClientSecret,
	}, PayloadAppAuthRes, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("application auth: %w", err)
	}
	c.setState(StateAppAuthenticated)

	_, err = c.roundTrip(ctx, s, PayloadAccountAuthReq, map[string]any{
		"ctidTraderAccountId": c.cfg.AccountID,
		"accessToken":         c.cfg.AccessToken,
	}, PayloadAccountAuthRes, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("account auth: %w", err)
	}
	return nil
}

// run поднимает read-loop и heartbeat под одним errgroup.
func (c *Client) run(ctx context.Context, s *session) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(s) })
	g.Go(func() error { return c.heartbeatLoop(gctx, s) })
	g.Go(func() error {
		<-gctx.Done()
		// разблокирует ReadMessage
		_ = s.conn.Close()
		return nil
	})

	go func() {
		err := g.Wait()
		c.sessionEnded(s, err)
		close(s.done)
	}()
}

func (c *Client) sessionEnded(s *session, err error) {
	c.sessMu.Lock()
	wasCurrent := c.sess == s
	if wasCurrent {
		c.sess = nil
	}
	c.sessMu.Unlock()

	n := s.rejectAll(ErrConnectionClosed)
	if wasCurrent {
		c.setState(StateDisconnected)
		logger.Warn("[VENUE] connection lost: %v (rejected %d pending)", err, n)
	} else if n > 0 {
		logger.Info("[VENUE] connection closed, rejected %d pending", n)
	}
}

// teardown - закрывает текущую сессию и ждёт, пока все её ожидающие вызовы будут отклонены.
func (c *Client) teardown() {
	c.sessMu.Lock()
	s := c.sess
	c.sess = nil
	c.sessMu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	_ = s.conn.Close()
	<-s.done
	c.setState(StateDisconnected)
}

func (c *Client) heartbeatLoop(ctx context.Context, s *session) error {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	raw, err := encodeFrame("", PayloadHeartbeat, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.write(raw); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (c *Client) readLoop(s *session) error {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f, err := decodeFrame(msg)
		if err != nil {
			logger.Warn("[VENUE] skip frame: %v", err)
			continue
		}
		c.dispatch(s, f)
	}
}

func (c *Client) dispatch(s *session, f Frame) {
	if f.PayloadType == PayloadHeartbeat {
		return
	}

	if f.PayloadType == PayloadExecutionEvent {
		c.publish(parseExecutionEvent(f))
	}

	if f.ClientMsgID != "" {
		if w := s.take(f.ClientMsgID); w != nil {
			w.ch <- resolve(w.expect, f)
			return
		}
	}

	switch f.PayloadType {
	case PayloadExecutionEvent:
	case PayloadErrorRes, PayloadOrderErrorEvt:
		logger.Error("[VENUE] uncorrelated %v", venueErrorFromFrame(f))
	default:
		logger.Debug("[VENUE] unsolicited frame payloadType=%d", f.PayloadType)
	}
}

func resolve(expect int, f Frame) result {
	if f.PayloadType == expect {
		return result{frame: f}
	}
	if ve := venueErrorFromFrame(f); ve != nil {
		return result{err: ve}
	}
	return result{err: &UnexpectedFrameError{Expected: expect, Got: f.PayloadType, Raw: f.Raw}}
}

// publish не блокирует read loop и не теряет события: при полном буфере
// они копятся в spill и досылаются в исходном порядке.
func (c *Client) publish(ev ExecutionEvent) {
	c.spillMu.Lock()
	defer c.spillMu.Unlock()

	if !c.spilling {
		select {
		case c.events <- ev:
			return
		default:
		}
		c.spilling = true
		go c.drainSpill()
		logger.Warn("[VENUE] event buffer full, spilling execution events")
	}
	c.spill = append(c.spill, ev)
}

func (c *Client) drainSpill() {
	for {
		c.spillMu.Lock()
		if len(c.spill) == 0 {
			c.spilling = false
			c.spill = nil
			c.spillMu.Unlock()
			return
		}
		ev := c.spill[0]
		c.spill = c.spill[1:]
		c.spillMu.Unlock()

		c.events <- ev
	}
}

func (c *Client) nextID() string {
	return "cm_" + strconv.FormatUint(c.seq.Add(1), 10)
}

// roundTrip - запрос с корреляцией по clientMsgId. Таймаут снимает только этот вызов.
func (c *Client) roundTrip(
	ctx context.Context,
	s *session,
	payloadType int,
	payload any,
	expect int,
	timeout time.Duration,
) (Frame, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Frame{}, err
	}

	id := c.nextID()
	raw, err := encodeFrame(id, payloadType, payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode payloadType=%d: %w", payloadType, err)
	}

	w := &waiter{expect: expect, ch: make(chan result, 1)}
	if err := s.register(id, w); err != nil {
		return Frame{}, err
	}
	if err := s.write(raw); err != nil {
		s.take(id)
		s.cancel()
		return Frame{}, errors.Join(ErrConnectionClosed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		return r.frame, r.err
	case <-timer.C:
		if s.take(id) == nil {
			// ответ успел прийти одновременно с таймером
			r := <-w.ch
			return r.frame, r.err
		}
		return Frame{}, &TimeoutError{PayloadType: payloadType, ClientMsgID: id, After: timeout}
	case <-ctx.Done():
		if s.take(id) == nil {
			r := <-w.ch
			return r.frame, r.err
		}
		return Frame{}, ctx.Err()
	}
}
