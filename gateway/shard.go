package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mediocregopher/radix/v4"
	"github.com/shardrelay/gateway/internal/cache"
	"github.com/shardrelay/gateway/internal/model"
)

// fatal close codes: the upstream will never accept a reconnect with this
// token/intents combination again.
var fatalCloseCodes = map[int]bool{4004: true, 4014: true}

// seqPersistInterval bounds how often a Dispatch frame's seq is written to
// the resume-state store; every frame updates it in memory regardless.
const seqPersistInterval = 5 * time.Second

// WhitelabelRegistrar is the hook step 3 calls when whitelabel mode is
// enabled. Like the cache and the event forwarder, it is an external
// collaborator the shard never implements itself.
type WhitelabelRegistrar interface {
	RegisterGuild(ctx context.Context, botID uint64, guildID model.Snowflake) error
}

// Shard owns one live (or about-to-be-live) gateway connection plus the
// session state that must survive across reconnects.
type Shard struct {
	cfg       *Config
	stats     *Stats
	logger    *Logger
	cache     cache.Cache
	forwarder EventForwarder
	store     *resumeStateStore
	limiter   *identifyLimiter
	registrar WhitelabelRegistrar

	statusUpdates chan PresenceUpdateData

	mu                 sync.RWMutex
	seq                *int64
	sessionID          string
	writer             *writerTask
	heartbeat          *heartbeatTask
	lastAck            time.Time
	lastHeartbeat      time.Time
	connectTime        time.Time
	lastSeqPersist     time.Time
	readyGuildCount    int
	receivedGuildCount int
	ready              bool

	readyOnce   sync.Once
	readyNotify chan struct{}

	killOnce int32
	killCh   chan struct{}
}

// NewShard constructs a shard. redisClient is shared by the resume-state
// store and the identify rate limiter across every shard a process owns.
func NewShard(cfg *Config, redisClient radix.Client, c cache.Cache, forwarder EventForwarder, stats *Stats, logger *Logger, registrar WhitelabelRegistrar) *Shard {
	return &Shard{
		cfg:       cfg,
		stats:     stats,
		logger:    logger,
		cache:     c,
		forwarder: forwarder,
		store:     newResumeStateStore(redisClient, cfg.BotID, cfg.Features.Whitelabel),
		limiter:   newIdentifyLimiter(redisClient, cfg.LargeShardingBuckets, cfg.BotID, cfg.Features.Whitelabel, stats),
		registrar: registrar,

		statusUpdates: make(chan PresenceUpdateData, 1),
		readyNotify:   make(chan struct{}),
		killCh:        make(chan struct{}),
	}
}

func (s *Shard) shardID() int   { return s.cfg.ShardInfo.ShardID }
func (s *Shard) numShards() int { return s.cfg.ShardInfo.NumShards }

func (s *Shard) id() string {
	if s.cfg.Features.Whitelabel {
		return fmt.Sprintf("%d", s.cfg.BotID)
	}
	return fmt.Sprintf("%02d", s.shardID())
}

// Ready returns a channel that closes the first time the current connection
// becomes ready, either via RESUMED or by crossing the 90% GUILD_CREATE
// threshold. It never closes twice; every Connect replaces it with a fresh
// channel, so callers should fetch it again after a reconnect.
func (s *Shard) Ready() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyNotify
}

// SendStatusUpdate enqueues a presence update for the next opportunity the
// read loop has to send it. If the loop is busy the update is dropped
// rather than blocking the caller.
func (s *Shard) SendStatusUpdate(p PresenceUpdateData) {
	select {
	case s.statusUpdates <- p:
	default:
	}
}

// Connect runs exactly one connection attempt end to end: handshake,
// steady-state read loop, and teardown. It returns nil on an orderly close
// (an externally delivered kill or an upstream reconnect/invalid-session
// request) or an error describing why the attempt failed, including
// *AuthenticationError for fatal close codes. Retrying is the caller's
// job: this method never loops.
func (s *Shard) Connect(ctx context.Context) error {
	s.resetSessionCounters()

	uri := s.gatewayURL()
	s.logf(LogLevelInfo, "connecting using url %s", uri)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return wrapTransport(err)
	}
	defer conn.Close()

	s.setConnectTime(time.Now())

	writer := startWriterTask(conn)
	s.setWriter(writer)
	defer func() {
		s.setWriter(nil)
		writer.stop()
	}()

	if s.stats != nil {
		s.stats.ShardsAlive.WithLabelValues(s.id()).Set(1)
		defer s.stats.ShardsAlive.WithLabelValues(s.id()).Set(0)
	}

	frames := make(chan frameOrErr, 8)
	go pumpFrames(conn, frames)

	err = s.listen(ctx, frames)

	if hb := s.getHeartbeat(); hb != nil {
		hb.stop()
	}
	return err
}

type frameOrErr struct {
	msgType int
	data    []byte
	err     error
	closeCd int
}

func pumpFrames(conn *websocket.Conn, out chan<- frameOrErr) {
	defer close(out)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code := -1
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			out <- frameOrErr{err: err, closeCd: code}
			return
		}
		out <- frameOrErr{msgType: msgType, data: data}
	}
}

// listen is the read loop: a select across the shard kill signal,
// inbound frames, and the public status-update channel.
func (s *Shard) listen(ctx context.Context, frames <-chan frameOrErr) error {
	decomp := newStreamDecompressor()
	killCh := s.getKillCh()

	for {
		select {
		case <-killCh:
			s.logf(LogLevelInfo, "killed")
			return nil

		case f, ok := <-frames:
			if !ok {
				s.logf(LogLevelWarn, "read pump closed unexpectedly")
				s.kill()
				continue
			}
			if f.err != nil {
				if fatalCloseCodes[f.closeCd] {
					return &AuthenticationError{
						BotToken:  s.cfg.BotToken,
						CloseCode: f.closeCd,
						Reason:    f.err.Error(),
					}
				}
				s.logErrf(f.err, "error reading from websocket")
				s.kill()
				continue
			}
			if err := s.handleFrame(ctx, f, decomp); err != nil {
				s.logErrf(err, "error handling frame")
			}

		case presence := <-s.statusUpdates:
			s.dispatchStatusUpdate(presence)
		}
	}
}

func (s *Shard) dispatchStatusUpdate(p PresenceUpdateData) {
	writer := s.getWriter()
	if writer == nil {
		return
	}
	payload, err := newStatusUpdatePayload(p)
	if err != nil {
		s.logErrf(err, "error building status update payload")
		return
	}
	go func() {
		if err := <-writer.send(payload); err != nil {
			s.logErrf(err, "error writing status update payload")
		}
	}()
}

func (s *Shard) handleFrame(ctx context.Context, f frameOrErr, decomp *streamDecompressor) error {
	var raw []byte

	switch f.msgType {
	case websocket.TextMessage:
		raw = f.data

	case websocket.BinaryMessage:
		if !s.cfg.Features.Compression {
			return nil
		}
		out, err := decomp.feed(f.data)
		if err != nil {
			s.logErrf(err, "error decompressing payload")
			return nil
		}
		if out == nil {
			return nil
		}
		raw = out

	default:
		return nil
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		s.logErrf(err, "error decoding envelope")
		return nil
	}

	if s.stats != nil {
		s.stats.PacketsReceived.WithLabelValues(env.Event, fmt.Sprintf("%d", env.Op), s.id()).Inc()
	}

	return s.processPayload(ctx, env)
}

// processPayload implements the per-opcode handling the steady-state read
// loop dispatches every decoded frame through.
func (s *Shard) processPayload(ctx context.Context, env *envelope) error {
	if env.Seq != nil {
		s.setSeq(*env.Seq)
	}

	switch env.Op {
	case OpDispatch:
		if env.Seq != nil {
			s.maybePersistSeq(ctx, *env.Seq)
		}
		go s.handleDispatchEvent(ctx, env.Event, env.Data)
		return nil

	case OpReconnect:
		s.logf(LogLevelInfo, "received reconnect request")
		s.kill()
		return nil

	case OpInvalidSession:
		s.logf(LogLevelInfo, "received invalid session")
		s.setSessionID("")
		s.clearSeq()
		if err := s.store.deleteSessionID(ctx, s.shardID(), s.numShards()); err != nil {
			s.logErrf(err, "error deleting session id from store")
		}
		if err := s.store.deleteSeq(ctx, s.shardID(), s.numShards()); err != nil {
			s.logErrf(err, "error deleting seq from store")
		}
		s.kill()
		return nil

	case OpHello:
		return s.handleHello(ctx, env.Data)

	case OpHeartbeatAck:
		now := time.Now()
		s.setLastAck(now)
		if s.stats != nil {
			if sentAt := s.getLastHeartbeat(); !sentAt.IsZero() {
				s.stats.Ping.WithLabelValues(s.id()).Observe(float64(now.Sub(sentAt).Milliseconds()))
			}
		}
		if sessionID := s.getSessionID(); sessionID != "" {
			if err := s.store.saveSessionID(ctx, s.shardID(), s.numShards(), sessionID); err != nil {
				s.logErrf(err, "error persisting session id on heartbeat ack")
			}
		}
		return nil

	default:
		return nil
	}
}

func (s *Shard) handleHello(ctx context.Context, data []byte) error {
	hello, err := decodeHello(data)
	if err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	shouldIdentify := true

	if sessionID, ok, err := s.store.loadSessionID(ctx, s.shardID(), s.numShards()); err != nil {
		s.logErrf(err, "error loading session id, falling back to identify")
	} else if ok {
		seq, seqOk, err := s.store.loadSeq(ctx, s.shardID(), s.numShards())
		if err != nil {
			s.logErrf(err, "error loading seq, falling back to identify")
		} else if seqOk {
			s.setSessionID(sessionID)
			s.setSeq(seq)

			if err := s.sendResume(sessionID, seq); err != nil {
				s.logErrf(err, "error resuming, falling back to identify")
				s.setSessionID("")
				s.clearSeq()
			} else {
				s.logf(LogLevelInfo, "sent resume")
				shouldIdentify = false
			}
		}
	}

	if shouldIdentify {
		if err := s.limiter.acquire(ctx, s.shardID()); err != nil {
			s.kill()
			return err
		}

		if time.Since(s.getConnectTime()) > interval {
			s.logf(LogLevelWarn, "connected too long ago to safely identify, reconnecting")
			s.kill()
			return nil
		}

		if err := s.sendIdentify(); err != nil {
			s.logErrf(err, "error identifying")
			s.kill()
			return err
		}
		s.logf(LogLevelInfo, "identified")
	}

	hb := startHeartbeatTask(s, interval)
	s.setHeartbeat(hb)
	return nil
}

// maybePersistSeq writes seq to the resume-state store at most once every
// seqPersistInterval, since a store write on
// every frame would be wasteful under sustained traffic.
func (s *Shard) maybePersistSeq(ctx context.Context, seq int64) {
	s.mu.Lock()
	due := time.Since(s.lastSeqPersist) >= seqPersistInterval
	if due {
		s.lastSeqPersist = time.Now()
	}
	s.mu.Unlock()

	if !due {
		return
	}
	if err := s.store.saveSeq(ctx, s.shardID(), s.numShards(), seq); err != nil {
		s.logErrf(err, "error persisting seq")
	}
}

func (s *Shard) sendIdentify() error {
	payload, err := newIdentifyPayload(s.cfg.BotToken, s.shardID(), s.numShards(), s.cfg.Features.Compression, 0)
	if err != nil {
		return err
	}
	return s.writeAwait(payload)
}

func (s *Shard) sendResume(sessionID string, seq int64) error {
	payload, err := newResumePayload(s.cfg.BotToken, sessionID, seq)
	if err != nil {
		return err
	}
	return s.writeAwait(payload)
}

func (s *Shard) writeAwait(payload []byte) error {
	writer := s.getWriter()
	if writer == nil {
		return ErrReceiverHungUp
	}
	return <-writer.send(payload)
}

// Kill requests an orderly shutdown of this shard's current connection, if
// any. It is safe to call from outside the package and safe to call more
// than once.
func (s *Shard) Kill() { s.kill() }

// kill idempotently delivers the shard-kill signal for the current
// connection, plus a best-effort stop of any running heartbeat task. A
// second call for the same connection is a safe no-op; resetSessionCounters
// rebuilds a fresh kill signal for every new connection attempt, so an
// earlier connection's kill never leaks into the next one.
func (s *Shard) kill() {
	s.mu.Lock()
	once := &s.killOnce
	ch := s.killCh
	s.mu.Unlock()

	if atomic.CompareAndSwapInt32(once, 0, 1) {
		close(ch)
	}
	if hb := s.getHeartbeat(); hb != nil {
		hb.stop()
	}
}

func (s *Shard) getKillCh() chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killCh
}

// gatewayURL builds the connect URL including compression query params.
func (s *Shard) gatewayURL() string {
	u, err := url.Parse(s.cfg.GatewayURL)
	if err != nil {
		return s.cfg.GatewayURL
	}
	q := u.Query()
	q.Set("v", "9")
	q.Set("encoding", "json")
	if s.cfg.Features.Compression {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Shard) registerWhitelabelGuild(ctx context.Context, guildID model.Snowflake) error {
	if s.registrar == nil {
		return nil
	}
	return s.registrar.RegisterGuild(ctx, s.cfg.BotID, guildID)
}

// markReadyAndNotify implements the compare-and-set plus one-shot
// notification shared by RESUMED and the 90%-guild-create threshold.
func (s *Shard) markReadyAndNotify() {
	s.mu.Lock()
	already := s.ready
	s.ready = true
	once := &s.readyOnce
	notify := s.readyNotify
	s.mu.Unlock()

	if !already {
		once.Do(func() { close(notify) })
	}
}

func (s *Shard) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// resetSessionCounters rebuilds every piece of state that is scoped to a
// single connection attempt rather than the shard's whole process
// lifetime: readiness, guild counters, and the kill signal. Without
// rebuilding killCh/killOnce here, a kill delivered during one connection
// (RECONNECT, INVALID_SESSION, a watchdog timeout, an identify failure —
// i.e. almost every non-happy-path) would leave the next connection's
// listen loop selecting an already-closed channel and exiting instantly.
func (s *Shard) resetSessionCounters() {
	s.mu.Lock()
	s.receivedGuildCount = 0
	s.readyGuildCount = 0
	s.ready = false
	s.readyOnce = sync.Once{}
	s.readyNotify = make(chan struct{})
	s.killOnce = 0
	s.killCh = make(chan struct{})
	s.mu.Unlock()
}

func (s *Shard) setConnectTime(t time.Time) {
	s.mu.Lock()
	s.connectTime = t
	s.mu.Unlock()
}

func (s *Shard) getConnectTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectTime
}

func (s *Shard) setWriter(w *writerTask) {
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

func (s *Shard) getWriter() *writerTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writer
}

func (s *Shard) setHeartbeat(h *heartbeatTask) {
	s.mu.Lock()
	s.heartbeat = h
	s.mu.Unlock()
}

func (s *Shard) getHeartbeat() *heartbeatTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeat
}

func (s *Shard) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Shard) getSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Shard) setSeq(seq int64) {
	s.mu.Lock()
	s.seq = &seq
	s.mu.Unlock()
}

func (s *Shard) clearSeq() {
	s.mu.Lock()
	s.seq = nil
	s.mu.Unlock()
}

func (s *Shard) getSeq() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == nil {
		return nil
	}
	seq := *s.seq
	return &seq
}

func (s *Shard) setLastAck(t time.Time) {
	s.mu.Lock()
	s.lastAck = t
	s.mu.Unlock()
}

func (s *Shard) getLastAck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAck
}

func (s *Shard) setLastHeartbeat(t time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = t
	s.mu.Unlock()
}

func (s *Shard) getLastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

func (s *Shard) setReadyGuildCount(n int) {
	s.mu.Lock()
	s.readyGuildCount = n
	s.mu.Unlock()
}

func (s *Shard) getReadyGuildCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyGuildCount
}

func (s *Shard) incReceivedGuildCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivedGuildCount++
	return s.receivedGuildCount
}

func (s *Shard) logf(level LogLevel, format string, args ...interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.log(level, "[shard:"+s.id()+"]", format, args...)
}

func (s *Shard) logErrf(err error, format string, args ...interface{}) {
	s.logf(LogLevelError, format+": %v", append(args, err)...)
}
