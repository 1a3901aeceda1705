package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tangthinker/watchman/internal/backup"
	"github.com/tangthinker/watchman/internal/ipc"
)

const (
	connTimeout    = 30 * time.Second
	historyTimeout = 5 * time.Second
)

type Server struct {
	listener   net.Listener
	manager    *backup.Manager
	socketPath string
	log        zerolog.Logger

	mu       sync.Mutex
	destRoot string
	wg       sync.WaitGroup
}

// NewServer creates a new Unix domain socket server
func NewServer(manager *backup.Manager, socketPath, destRoot string, log zerolog.Logger) (*Server, error) {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &Server{
		listener:   listener,
		manager:    manager,
		socketPath: socketPath,
		destRoot:   destRoot,
		log:        log.With().Str("component", "daemon").Logger(),
	}, nil
}

// SetDefaultDestRoot changes the folder used when ADD has no destination.
func (s *Server) SetDefaultDestRoot(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destRoot = root
}

// Start handles incoming connections until Close is called.
func (s *Server) Start() error {
	s.log.Info().Str("socket", s.socketPath).Msg("listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting connections and waits for open ones to finish.
func (s *Server) Close() error {
	if err := s.listener.Close(); err != nil {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	s.wg.Wait()
	return os.RemoveAll(s.socketPath)
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	cmd, err := ipc.ReadCommand(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid command")
		s.reply(conn, ipc.NewResponse(nil, fmt.Errorf("invalid command: %w", err)))
		return
	}
	s.log.Debug().Str("type", string(cmd.Type)).Msg("command received")
	s.reply(conn, s.dispatch(cmd))
}

func (s *Server) dispatch(cmd *ipc.Command) *ipc.Response {
	switch cmd.Type {
	case ipc.CmdAdd:
		return s.handleAdd(cmd)
	case ipc.CmdEdit:
		return s.handleEdit(cmd)
	case ipc.CmdDelete:
		return s.handleDelete(cmd)
	case ipc.CmdRun:
		return s.handleRun(cmd)
	case ipc.CmdList:
		return ipc.NewResponse(s.manager.Snapshot(), nil)
	case ipc.CmdLogs:
		return s.handleLogs(cmd)
	case ipc.CmdHistory:
		return s.handleHistory(cmd)
	default:
		return ipc.NewResponse(nil, fmt.Errorf("unknown command type: %s", cmd.Type))
	}
}

func (s *Server) reply(conn net.Conn, resp *ipc.Response) {
	if err := ipc.Write(conn, resp); err != nil {
		s.log.Warn().Err(err).Msg("failed to send response")
	}
}

func (s *Server) handleAdd(cmd *ipc.Command) *ipc.Response {
	var p ipc.JobPayload
	if err := cmd.Decode(&p); err != nil {
		return ipc.NewResponse(nil, err)
	}
	if strings.TrimSpace(p.Job.DestPath) == "" && strings.TrimSpace(p.Job.SourcePath) != "" {
		s.mu.Lock()
		p.Job.DestPath = backup.DefaultDestination(s.destRoot, p.Job.SourcePath)
		s.mu.Unlock()
	}

	idx, err := s.manager.Add(p.Job)
	if err != nil {
		s.log.Info().Err(err).Str("source", p.Job.SourcePath).Msg("add rejected")
		return ipc.NewResponse(nil, err)
	}
	return ipc.NewResponse(ipc.AddResult{Index: idx, Dest: p.Job.DestPath}, nil)
}

func (s *Server) handleEdit(cmd *ipc.Command) *ipc.Response {
	var p ipc.JobPayload
	if err := cmd.Decode(&p); err != nil {
		return ipc.NewResponse(nil, err)
	}
	return ipc.NewResponse(nil, s.manager.Edit(p.Index, p.Job))
}

func (s *Server) handleDelete(cmd *ipc.Command) *ipc.Response {
	var p ipc.IndexPayload
	if err := cmd.Decode(&p); err != nil {
		return ipc.NewResponse(nil, err)
	}
	return ipc.NewResponse(nil, s.manager.Delete(p.Index))
}

func (s *Server) handleRun(cmd *ipc.Command) *ipc.Response {
	var p ipc.IndexPayload
	if err := cmd.Decode(&p); err != nil {
		return ipc.NewResponse(nil, err)
	}
	return ipc.NewResponse(nil, s.manager.RunNow(p.Index))
}

func (s *Server) handleLogs(cmd *ipc.Command) *ipc.Response {
	var p ipc.LimitPayload
	if len(cmd.Payload) > 0 {
		if err := cmd.Decode(&p); err != nil {
			return ipc.NewResponse(nil, err)
		}
	}
	return ipc.NewResponse(s.manager.Logs(p.N), nil)
}

func (s *Server) handleHistory(cmd *ipc.Command) *ipc.Response {
	var p ipc.LimitPayload
	if len(cmd.Payload) > 0 {
		if err := cmd.Decode(&p); err != nil {
			return ipc.NewResponse(nil, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	recs, err := s.manager.History(ctx, p.N)
	return ipc.NewResponse(recs, err)
}
