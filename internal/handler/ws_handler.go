package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: answers, flags, focus
// losses, heartbeats and the final submit share a single connection.
type WSHandler struct {
	attempts  attemptFlow
	answers   answerRecorder
	integrity integrityRecorder
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts attemptFlow, answers answerRecorder, integrity integrityRecorder, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:  attempts,
		answers:   answers,
		integrity: integrity,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// wsSession is the per-connection state handed to each action.
type wsSession struct {
	conn      *websocket.Conn
	attemptID uuid.UUID
	studentID int
	ip        string
	userAgent string
	log       zerolog.Logger
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:id/stream?token=
// Upgrades to WebSocket once the attempt is known to belong to the caller.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	// Ownership is checked before the upgrade so a stranger gets a plain 404.
	state, err := h.attempts.GetState(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)

	s := &wsSession{
		conn:      conn,
		attemptID: attemptID,
		studentID: claims.UserID,
		ip:        c.ClientIP(),
		userAgent: c.Request.UserAgent(),
		log: h.log.With().
			Int("student_id", claims.UserID).
			Str("attempt_id", attemptID.String()).
			Logger(),
	}
	s.log.Info().Str("status", string(state.Status)).Msg("Student connected")

	ctx := c.Request.Context()
	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		var reply any
		switch msg.Action {
		case ws.ActionAnswer:
			reply, err = h.handleAnswer(c, s, &msg)
		case ws.ActionFlag:
			reply, err = h.handleFlag(c, s, &msg)
		case ws.ActionTabSwitch:
			var n int
			n, err = h.integrity.RecordTabSwitch(ctx, s.attemptID, s.studentID)
			reply = ws.TabSwitchResponse{Event: ws.EventTabSwitch, Count: n}
		case ws.ActionPing:
			reply, err = h.handlePing(c, s)
		case ws.ActionSubmit:
			reply, err = h.handleSubmit(c, s, &msg)
		default:
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action")
			continue
		}

		if err != nil {
			h.writeServiceError(s, err)
			continue
		}
		if err := ws.WriteTyped(conn, reply); err != nil {
			s.log.Debug().Err(err).Msg("Write failed, closing")
			return
		}
		if msg.Action == ws.ActionSubmit {
			return
		}
	}
}

func (h *WSHandler) handleAnswer(c *gin.Context, s *wsSession, msg *ws.Request) (any, error) {
	qid, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		return nil, errBadFrame
	}
	if _, err := h.answers.RecordAnswer(c.Request.Context(), service.RecordAnswerInput{
		AttemptID:        s.attemptID,
		StudentID:        s.studentID,
		QuestionID:       qid,
		Answer:           msg.Answer,
		TimeSpentSeconds: max(msg.TimeSpent, 0),
	}); err != nil {
		return nil, err
	}
	return ws.SavedResponse{Event: ws.EventSaved, QuestionID: qid.String()}, nil
}

func (h *WSHandler) handleFlag(c *gin.Context, s *wsSession, msg *ws.Request) (any, error) {
	qid, err := uuid.Parse(msg.QuestionID)
	if err != nil || msg.Flagged == nil {
		return nil, errBadFrame
	}
	if err := h.answers.ToggleFlag(c.Request.Context(), s.attemptID, s.studentID, qid, *msg.Flagged); err != nil {
		return nil, err
	}
	return ws.FlaggedResponse{Event: ws.EventFlagged, QuestionID: qid.String(), Flagged: *msg.Flagged}, nil
}

func (h *WSHandler) handlePing(c *gin.Context, s *wsSession) (any, error) {
	ack, err := h.integrity.RefreshHeartbeat(c.Request.Context(), service.HeartbeatInput{
		AttemptID: s.attemptID,
		StudentID: s.studentID,
		IPAddress: s.ip,
		UserAgent: s.userAgent,
	})
	if err != nil {
		return nil, err
	}
	return ws.PongResponse{
		Event:         ws.EventPong,
		Status:        string(ack.Status),
		RemainingTime: ack.RemainingTime,
		TabSwitches:   ack.TabSwitches,
	}, nil
}

func (h *WSHandler) handleSubmit(c *gin.Context, s *wsSession, msg *ws.Request) (any, error) {
	trigger := model.SubmitTriggerManual
	switch model.SubmitTrigger(msg.Trigger) {
	case "", model.SubmitTriggerManual:
	case model.SubmitTriggerAuto:
		trigger = model.SubmitTriggerAuto
	default:
		return nil, errBadFrame
	}

	a, err := h.attempts.SubmitAsStudent(c.Request.Context(), s.attemptID, s.studentID, trigger)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("status", string(a.Status)).Msg("Attempt submitted over WebSocket")

	r := newSubmitResult(a)
	return ws.SubmittedResponse{
		Event:      ws.EventSubmitted,
		Status:     string(r.Status),
		TotalScore: r.TotalScore,
		Percentage: r.Percentage,
	}, nil
}

func (h *WSHandler) writeServiceError(s *wsSession, err error) {
	if err == errBadFrame {
		_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return
	}
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("WebSocket action failed")
	}
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code))
}
