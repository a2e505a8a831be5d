package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/monitor"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
	"github.com/GriffinCanCode/termblocks/internal/shared/types"
	"github.com/GriffinCanCode/termblocks/internal/shared/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = utils.MaxCommandLength + 1024
	outboxSize     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// Handler streams the blocks of one shell over a websocket
type Handler struct {
	sessions *shell.Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *shell.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleConnection upgrades GET /sessions/:sid/stream
func (h *Handler) HandleConnection(c *gin.Context) {
	sid := c.Param("sid")
	if err := utils.ValidateID(sid, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.sessions.Get(id.SessionID(sid))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	logger := h.logger.With(zap.String("session_id", sid))
	logger.Debug("Stream connected", zap.String("remote", c.Request.RemoteAddr))

	cl := &client{
		conn:       conn,
		shell:      s,
		metrics:    h.metrics,
		logger:     logger,
		outbox:     make(chan Frame, outboxSize),
		writerDone: make(chan struct{}),
	}
	cl.run(c.Request.Context())

	logger.Debug("Stream disconnected")
}

// client is one connection. The write loop owns every write to conn.
type client struct {
	conn    *websocket.Conn
	shell   *shell.Shell
	metrics *monitoring.Metrics
	logger  *zap.Logger

	outbox     chan Frame
	writerDone chan struct{}
}

func (cl *client) run(ctx context.Context) {
	blocks := cl.shell.ObserveBlocks()
	defer blocks.Close()

	var failures <-chan monitor.Failure
	if sub, err := cl.shell.ObserveFailures(); err == nil {
		defer sub.Close()
		failures = sub.C()
	}

	stop := make(chan struct{})
	go cl.writeLoop(blocks.C(), failures, stop)

	cl.readLoop(ctx)
	close(stop)
	<-cl.writerDone
}

func (cl *client) writeLoop(blocks <-chan []block.Block, failures <-chan monitor.Failure, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
		close(cl.writerDone)
	}()

	hello := newFrame(TypeSystem)
	hello.SessionID = cl.shell.ID()
	if err := cl.write(hello); err != nil {
		return
	}

	for {
		var err error
		select {
		case <-stop:
			cl.closeNormally()
			return
		case list, ok := <-blocks:
			if !ok {
				cl.closeNormally()
				return
			}
			err = cl.write(blocksFrame(list))
		case failure, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			err = cl.write(failureFrame(failure))
		case frame := <-cl.outbox:
			err = cl.write(frame)
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = cl.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			cl.logger.Debug("Stream write failed", zap.Error(err))
			return
		}
	}
}

func (cl *client) write(frame Frame) error {
	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	cl.metrics.RecordWSMessage("out", frame.Type)
	return nil
}

func (cl *client) closeNormally() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = cl.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (cl *client) readLoop(ctx context.Context) {
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Debug("Stream read failed", zap.Error(err))
			}
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg types.WSMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cl.reply(errorFrame("", errors.New("invalid message")))
			continue
		}
		cl.metrics.RecordWSMessage("in", msg.Type)
		cl.handle(ctx, msg)
	}
}

func (cl *client) handle(ctx context.Context, msg types.WSMessage) {
	switch msg.Type {
	case TypeSubmit:
		if err := utils.ValidateCommand(msg.Command); err != nil {
			cl.reply(errorFrame(msg.RequestID, err))
			return
		}
		if err := utils.ValidateWorkingDir(msg.WorkingDir); err != nil {
			cl.reply(errorFrame(msg.RequestID, err))
			return
		}
		b, err := cl.shell.Submit(ctx, msg.Command, msg.WorkingDir)
		if err != nil && b.ID == "" {
			cl.reply(errorFrame(msg.RequestID, err))
			return
		}
		cl.reply(blockFrame(TypeSubmitted, msg.RequestID, b))

	case TypeCancel:
		if err := utils.ValidateID(msg.BlockID, "block_id", true); err != nil {
			cl.reply(errorFrame(msg.RequestID, err))
			return
		}
		b, err := cl.shell.Cancel(id.BlockID(msg.BlockID))
		if err != nil {
			cl.reply(errorFrame(msg.RequestID, err))
			return
		}
		cl.reply(blockFrame(TypeCanceled, msg.RequestID, b))

	case TypePing:
		f := newFrame(TypePong)
		f.RequestID = msg.RequestID
		cl.reply(f)

	default:
		cl.reply(errorFrame(msg.RequestID, fmt.Errorf("unknown message type %q", msg.Type)))
	}
}

// reply queues a frame for the write loop unless it has already exited
func (cl *client) reply(frame Frame) {
	select {
	case cl.outbox <- frame:
	case <-cl.writerDone:
	}
}
