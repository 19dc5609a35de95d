// Package server exposes the QR attendance channel: a rotating token
// endpoint the kiosk projects as a QR code, a submission endpoint for
// student phones, and a websocket feed for live dashboards.
package server

import (
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/MrCodeEU/facemark/pkg/qrtoken"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
)

// Submission statuses returned to student phones.
const (
	StatusSuccess       = "success"
	StatusAlreadyMarked = "already_marked"
	StatusInvalidToken  = "invalid_token"
)

// AttendanceRequest is the body students POST after scanning the code.
type AttendanceRequest struct {
	Token     string `json:"token" validate:"required"`
	StudentID string `json:"student_id" validate:"required,min=1,max=64"`
}

// AttendanceResponse reports the submission outcome.
type AttendanceResponse struct {
	Status string `json:"status"`
}

// TokenResponse carries the current QR payload.
type TokenResponse struct {
	Token string `json:"token"`
}

// Server wires the HTTP surface together.
type Server struct {
	app      *fiber.App
	tokens   *qrtoken.Service
	ledger   *attendance.Ledger
	hub      *Hub
	validate *validator.Validate
	now      func() time.Time
}

// New creates the server. The hub should also be installed as the
// ledger's notifier so camera-marked students reach dashboards too.
func New(tokens *qrtoken.Service, ledger *attendance.Ledger, hub *Hub) *Server {
	app := fiber.New(fiber.Config{
		AppName:     "Facemark Server",
		JSONEncoder: jsoniter.Marshal,
		JSONDecoder: jsoniter.Unmarshal,
	})

	s := &Server{
		app:      app,
		tokens:   tokens,
		ledger:   ledger,
		hub:      hub,
		validate: validator.New(),
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/qr", s.handleToken)
	s.app.Post("/attendance", s.handleAttendance)
	s.app.Get("/attendance/export", s.handleExport)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// handleToken returns the current QR token, rotating it if expired.
func (s *Server) handleToken(c *fiber.Ctx) error {
	return c.JSON(TokenResponse{Token: s.tokens.Current()})
}

// handleAttendance validates a scanned token and marks the student.
func (s *Server) handleAttendance(c *fiber.Ctx) error {
	var req AttendanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if !s.tokens.Validate(req.Token) {
		logging.WithField("student_id", req.StudentID).Warn("Rejected stale QR token")
		return c.Status(fiber.StatusForbidden).JSON(AttendanceResponse{Status: StatusInvalidToken})
	}

	status, err := s.ledger.Record(req.StudentID, s.now())
	if err != nil {
		logging.WithError(err).Error("Failed to record QR attendance")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to record attendance"})
	}

	if status == attendance.AlreadyMarked {
		return c.JSON(AttendanceResponse{Status: StatusAlreadyMarked})
	}
	return c.JSON(AttendanceResponse{Status: StatusSuccess})
}

// handleExport streams the day's sheet as CSV.
func (s *Server) handleExport(c *fiber.Ctx) error {
	entries, err := s.ledger.Entries(s.now())
	if err != nil {
		logging.WithError(err).Error("Failed to read attendance sheet")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read attendance"})
	}

	body := "Name,Time\n"
	for _, e := range entries {
		body += e.Name + "," + e.Time.Format(time.TimeOnly) + "\n"
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="attendance.csv"`)
	return c.SendString(body)
}

// handleWebSocket keeps a dashboard subscribed until it disconnects.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.hub.Register(c)
	defer s.hub.Unregister(c)

	// Reads only serve to detect the close; dashboards never send.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	logging.Infof("Attendance server listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
