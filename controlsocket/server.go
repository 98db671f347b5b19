package controlsocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/governance"
)

// PingInterval matches `coordinator.DefaultConfig`'s cadence for
// liveness pings over an otherwise idle connection.
const PingInterval = 30 * time.Second

// KernelFacade is the subset of *kernel.Kernel this server calls,
// narrowed for testability against a fake.
type KernelFacade interface {
	GetReducerState(name, key string) (interface{}, bool)
	ListCells(workspace string) ([]cellindex.CellRef, error)
	GetJournalHead() uint64
	GetManifest() string
	SubmitProposal(patch governance.ManifestPatch, description string) (*governance.Proposal, error)
	RunShadow(proposalID string, summary governance.ShadowSummary) error
	ApproveProposal(proposalID, approver string, decision bool) error
	ApplyProposal(proposalID string) (string, error)
	CreateSnapshot(governanceState interface{}, pinnedRoots []string) (string, error)
	Tick(nowNS int64) (bool, error)
}

// Server upgrades HTTP connections to the control-socket protocol and
// dispatches each envelope's cmd to the kernel facade.
type Server struct {
	Kernel   KernelFacade
	Auth     *TokenService
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

// NewServer builds a Server over k, requiring a valid bearer token from
// auth on every connection unless auth is nil (auth disabled — local
// trusted deployments only).
func NewServer(k KernelFacade, auth *TokenService, log *logrus.Entry) *Server {
	return &Server{
		Kernel: k,
		Auth:   auth,
		log:    log.WithField("component", "controlsocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler: one WebSocket connection per call,
// authenticated once at upgrade time.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Auth != nil {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := s.Auth.ValidateToken(token); err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	s.serveConn(conn)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) serveConn(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(2 * PingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(2 * PingInterval))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp := s.handleEnvelope(data)
		raw, err := json.Marshal(resp)
		if err != nil {
			s.log.WithError(err).Warn("encode response failed")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleEnvelope(data []byte) *Response {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errResponse("", "DecodeError", "malformed envelope: "+err.Error())
	}
	if env.V != ProtocolVersion {
		return errResponse(env.ID, "UnsupportedVersion", "unsupported envelope version")
	}

	result, err := s.dispatch(env.Cmd, env.Payload)
	if err != nil {
		return errResponse(env.ID, "CommandFailed", err.Error())
	}
	resp, err := okResponse(env.ID, result)
	if err != nil {
		return errResponse(env.ID, "EncodeError", err.Error())
	}
	return resp
}

func (s *Server) dispatch(cmd string, payload json.RawMessage) (interface{}, error) {
	switch cmd {
	case "get_reducer_state":
		var req struct{ Name, Key string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		state, ok := s.Kernel.GetReducerState(req.Name, req.Key)
		return map[string]interface{}{"state": state, "found": ok}, nil

	case "list_cells":
		var req struct{ Workspace string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return s.Kernel.ListCells(req.Workspace)

	case "get_journal_head":
		return map[string]interface{}{"height": s.Kernel.GetJournalHead()}, nil

	case "get_manifest":
		return map[string]interface{}{"manifest_hash": s.Kernel.GetManifest()}, nil

	case "submit_proposal":
		var req struct {
			Patch       governance.ManifestPatch
			Description string
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return s.Kernel.SubmitProposal(req.Patch, req.Description)

	case "run_shadow":
		var req struct {
			ProposalID string
			Summary    governance.ShadowSummary
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.Kernel.RunShadow(req.ProposalID, req.Summary)

	case "approve_proposal":
		var req struct {
			ProposalID string
			Approver   string
			Decision   bool
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.Kernel.ApproveProposal(req.ProposalID, req.Approver, req.Decision)

	case "apply_proposal":
		var req struct{ ProposalID string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		hash, err := s.Kernel.ApplyProposal(req.ProposalID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"manifest_hash": hash}, nil

	case "create_snapshot":
		var req struct {
			GovernanceState interface{}
			PinnedRoots     []string
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		ref, err := s.Kernel.CreateSnapshot(req.GovernanceState, req.PinnedRoots)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"snapshot_ref": ref}, nil

	case "tick":
		var req struct{ NowNS int64 }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		quiescent, err := s.Kernel.Tick(req.NowNS)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"quiescent": quiescent}, nil

	default:
		return nil, unknownCommandError(cmd)
	}
}

type unknownCommandErr struct{ cmd string }

func (e unknownCommandErr) Error() string { return "controlsocket: unknown command " + e.cmd }

func unknownCommandError(cmd string) error { return unknownCommandErr{cmd: cmd} }
