package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/config"
	"github.com/MrCodeEU/facemark/pkg/qrtoken"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	ledger, err := attendance.NewLedger(t.TempDir(), config.RolloverReset, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	s := New(qrtoken.NewService(4*time.Second), ledger, NewHub())
	s.now = func() time.Time {
		return time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	}
	return s
}

func postAttendance(t *testing.T, s *Server, body interface{}) (*http.Response, AttendanceResponse) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/attendance", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var out AttendanceResponse
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func TestHandleToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/qr", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out TokenResponse
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Token == "" {
		t.Error("expected a token")
	}
}

func TestHandleAttendance_Success(t *testing.T) {
	s := newTestServer(t)
	token := s.tokens.Current()

	resp, out := postAttendance(t, s, AttendanceRequest{Token: token, StudentID: "S12345"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Status != StatusSuccess {
		t.Errorf("expected %s, got %s", StatusSuccess, out.Status)
	}
}

func TestHandleAttendance_AlreadyMarked(t *testing.T) {
	s := newTestServer(t)
	token := s.tokens.Current()

	postAttendance(t, s, AttendanceRequest{Token: token, StudentID: "S12345"})
	resp, out := postAttendance(t, s, AttendanceRequest{Token: token, StudentID: "S12345"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Status != StatusAlreadyMarked {
		t.Errorf("expected %s, got %s", StatusAlreadyMarked, out.Status)
	}
}

func TestHandleAttendance_InvalidToken(t *testing.T) {
	s := newTestServer(t)
	_ = s.tokens.Current()

	resp, out := postAttendance(t, s, AttendanceRequest{Token: "stale-token", StudentID: "S12345"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if out.Status != StatusInvalidToken {
		t.Errorf("expected %s, got %s", StatusInvalidToken, out.Status)
	}
}

func TestHandleAttendance_MissingFields(t *testing.T) {
	s := newTestServer(t)

	resp, _ := postAttendance(t, s, map[string]string{"token": s.tokens.Current()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing student_id, got %d", resp.StatusCode)
	}

	resp, _ = postAttendance(t, s, map[string]string{"student_id": "S12345"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing token, got %d", resp.StatusCode)
	}
}

func TestHandleExport(t *testing.T) {
	s := newTestServer(t)
	token := s.tokens.Current()
	postAttendance(t, s, AttendanceRequest{Token: token, StudentID: "S12345"})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/attendance/export", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}

	data, _ := io.ReadAll(resp.Body)
	want := "Name,Time\nS12345,09:00:00\n"
	if string(data) != want {
		t.Errorf("unexpected export:\ngot  %q\nwant %q", data, want)
	}
}

type fakeConn struct {
	events []Event
	err    error
	closed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, v.(Event))
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}
	hub.Register(a)
	hub.Register(b)

	hub.NotifyMarked(attendance.Entry{
		Name: "ALICE",
		Time: time.Date(2026, 8, 26, 9, 15, 0, 0, time.UTC),
	})

	for _, c := range []*fakeConn{a, b} {
		if len(c.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(c.events))
		}
		e := c.events[0]
		if e.Event != EventStudentMarked || e.Name != "ALICE" || e.Time != "09:15:00" {
			t.Errorf("unexpected event: %+v", e)
		}
	}
}

func TestHub_DropsFailingClient(t *testing.T) {
	hub := NewHub()
	good := &fakeConn{}
	bad := &fakeConn{err: errors.New("write: broken pipe")}
	hub.Register(good)
	hub.Register(bad)

	hub.Broadcast(Event{Event: EventStudentMarked, Name: "ALICE"})

	if hub.Clients() != 1 {
		t.Errorf("expected 1 remaining client, got %d", hub.Clients())
	}
	if !bad.closed {
		t.Error("expected failing client to be closed")
	}
	if len(good.events) != 1 {
		t.Errorf("healthy client missed the event: %d", len(good.events))
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	c := &fakeConn{}
	hub.Register(c)
	hub.Unregister(c)

	hub.Broadcast(Event{Event: EventStudentMarked})
	if len(c.events) != 0 {
		t.Error("unregistered client received an event")
	}
}
