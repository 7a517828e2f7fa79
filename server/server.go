package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/devrag/pkg/retrieval"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the JSON frame exchanged on /ws. Clients send type "question";
// the server answers with "results", optional "stream" chunks, then
// "response" or "error".
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Retriever is the part of retrieval.Orchestrator the server needs.
type Retriever interface {
	Search(ctx context.Context, question string, k int) ([]retrieval.Hit, error)
	Complete(ctx context.Context, question string, hits []retrieval.Hit, onChunk func(string)) *retrieval.Answer
}

type Config struct {
	Port      string
	TopK      int
	Streaming bool
	Logger    *log.Logger
}

type WSServer struct {
	config    Config
	retriever Retriever
	logger    *log.Logger
}

func NewWSServer(config Config, retriever Retriever) *WSServer {
	if config.Port == "" {
		config.Port = "8080"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WSServer{config: config, retriever: retriever, logger: logger}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting WebSocket server on port %s", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		// Questions are answered in order so frames of two answers never interleave.
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "question" {
		s.sendMessage(conn, "error", fmt.Sprintf("unsupported message type %q", msg.Type), nil)
		return
	}

	hits, err := s.retriever.Search(ctx, msg.Content, s.config.TopK)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error querying documents: %v", err), nil)
		return
	}
	s.sendMessage(conn, "results", fmt.Sprintf("%d results", len(hits)), hits)

	var onChunk func(string)
	if s.config.Streaming {
		onChunk = func(chunk string) {
			s.sendMessage(conn, "stream", chunk, nil)
		}
	}

	answer := s.retriever.Complete(ctx, msg.Content, hits, onChunk)
	if answer.Outcome == retrieval.GenerationFailed {
		s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", answer.GenerationErr), map[string]any{"outcome": answer.Outcome})
		return
	}
	s.sendMessage(conn, "response", answer.Text, map[string]any{"outcome": answer.Outcome})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msgType string, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Printf("Error sending message: %v", err)
	}
}
