package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/gorilla/websocket"
)

const version = "0.1.0"

// markedEvent mirrors the server's push message.
type markedEvent struct {
	Event string `json:"event"`
	Name  string `json:"name"`
	Time  string `json:"time"`
}

func main() {
	serverAddr := flag.String("server", "localhost:5000", "Attendance server host:port")
	export := flag.String("export", "", "Download today's sheet to a CSV file and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := "info"
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize logging: %v\n", err)
	}

	if *export != "" {
		if err := exportCSV(*serverAddr, *export); err != nil {
			logging.WithError(err).Fatal("Export failed")
		}
		return
	}

	if err := watch(*serverAddr); err != nil {
		logging.WithError(err).Fatal("Dashboard failed")
	}
}

// exportCSV downloads the day's sheet.
func exportCSV(addr, path string) error {
	resp, err := http.Get("http://" + addr + "/attendance/export")
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d bytes to %s\n", n, path)
	return nil
}

// watch subscribes to the live feed and prints marks as they land,
// reconnecting when the server drops the connection.
func watch(addr string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	url := "ws://" + addr + "/ws"
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", url)

	for {
		select {
		case <-sigCh:
			fmt.Println("Bye")
			return nil
		default:
		}

		if err := watchOnce(url, sigCh); err != nil {
			logging.WithError(err).Warn("Connection lost, retrying in 3s")
			select {
			case <-sigCh:
				fmt.Println("Bye")
				return nil
			case <-time.After(3 * time.Second):
			}
		} else {
			return nil
		}
	}
}

func watchOnce(url string, sigCh chan os.Signal) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	logging.Info("Connected to attendance feed")

	// Close the connection when interrupted so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var event markedEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logging.WithError(err).Debug("Skipping malformed event")
			continue
		}

		if event.Event == "student_marked" {
			fmt.Printf("[%s] %s marked present\n", event.Time, event.Name)
		}
	}
}
