package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

// Server exposes escrow operations as MCP tools. Tool failures come back as
// error results carrying an errorView, never as protocol errors.
type Server struct {
	mcp     *mcp.Server
	service core.EscrowService
	info    core.ServiceInfo
	clock   clock.Clock
	logger  logging.Logger
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func NewServer(svc core.EscrowService, info core.ServiceInfo, logger logging.Logger, opts ...Option) *Server {
	s := &Server{
		service: svc,
		info:    info,
		clock:   clock.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: info.Name, Version: info.Version}, nil)
	s.registerTools()
	return s
}

// Run serves a single client session until the transport closes or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("tools: %w", err)
	}
	return nil
}

// ServeStdio serves the tool protocol on the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// addTool registers fn under tool and maps its outcome onto a text result.
func addTool[In any](s *Server, tool *mcp.Tool, fn func(context.Context, In) (any, error)) {
	mcp.AddTool(s.mcp, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		result, err := fn(ctx, in)
		if err != nil {
			s.logger.Warn("Tool call failed", "tool", tool.Name, "kind", string(core.KindOf(err)), "error", err)
			return textResult(toErrorView(err), true), nil, nil
		}
		return textResult(result, false), nil, nil
	})
}

// jobIDArg accepts a job id as a JSON number or a decimal string. Parsing is
// deferred so a malformed id surfaces as a validation result.
type jobIDArg struct {
	raw string
}

func (a *jobIDArg) UnmarshalJSON(b []byte) error {
	a.raw = strings.Trim(string(b), `"`)
	return nil
}

func (a jobIDArg) parse() (core.JobID, error) {
	if a.raw == "" || a.raw == "null" {
		return 0, core.NewError(core.KindValidation, "parse", errors.New("job_id is required"))
	}
	id, err := core.ParseJobID(a.raw)
	if err != nil {
		return 0, core.NewError(core.KindValidation, "parse", err)
	}
	return id, nil
}

type createEscrowArgs struct {
	WorkerAddress string  `json:"worker_address"`
	AmountETH     string  `json:"amount_eth"`
	DeadlineHours float64 `json:"deadline_hours"`
}

type submitWorkArgs struct {
	JobID       jobIDArg `json:"job_id"`
	Deliverable string   `json:"deliverable"`
}

type jobArgs struct {
	JobID jobIDArg `json:"job_id"`
}

type txArgs struct {
	TxHash string `json:"tx_hash"`
}

type noArgs struct{}

func (s *Server) createEscrow(ctx context.Context, args createEscrowArgs) (any, error) {
	deadline, err := core.DeadlineFromHours(s.clock.Now(), args.DeadlineHours)
	if err != nil {
		return nil, err
	}
	action, err := core.ParseCreateJob(s.service.Projector(), args.WorkerAddress, args.AmountETH, deadline)
	if err != nil {
		return nil, err
	}
	out, err := s.service.Execute(ctx, core.TransitionRequest{Action: action})
	if err != nil {
		return nil, err
	}
	view := s.outcomeView(out, "Escrow created")
	view.Worker = action.Worker.Hex()
	view.Amount = s.service.Projector().FormatAmount(action.Amount)
	view.Deadline = &deadline
	return view, nil
}

func (s *Server) submitWork(ctx context.Context, args submitWorkArgs) (any, error) {
	id, err := args.JobID.parse()
	if err != nil {
		return nil, err
	}
	out, err := s.service.Execute(ctx, core.TransitionRequest{JobID: id, Action: core.SubmitWork{Deliverable: args.Deliverable}})
	if err != nil {
		return nil, err
	}
	view := s.outcomeView(out, "Work submitted")
	view.Deliverable = args.Deliverable
	return view, nil
}

// transition builds a handler for the single-argument job actions.
func (s *Server) transition(action core.Action, message string) func(context.Context, jobArgs) (any, error) {
	return func(ctx context.Context, args jobArgs) (any, error) {
		id, err := args.JobID.parse()
		if err != nil {
			return nil, err
		}
		out, err := s.service.Execute(ctx, core.TransitionRequest{JobID: id, Action: action})
		if err != nil {
			return nil, err
		}
		return s.outcomeView(out, message), nil
	}
}

func (s *Server) jobStatus(ctx context.Context, args jobArgs) (any, error) {
	id, err := args.JobID.parse()
	if err != nil {
		return nil, err
	}
	job, err := s.service.Query(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.jobView(job), nil
}

func (s *Server) jobCount(ctx context.Context, _ noArgs) (any, error) {
	count, err := s.service.JobCount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"count": fmt.Sprint(count)}, nil
}

func (s *Server) transactionStatus(ctx context.Context, args txArgs) (any, error) {
	if len(args.TxHash) != 66 {
		return nil, core.NewError(core.KindValidation, "parse", fmt.Errorf("invalid transaction hash %q", args.TxHash))
	}
	hash := common.HexToHash(args.TxHash)
	st, err := s.service.TransactionStatus(ctx, hash)
	if err != nil {
		return nil, err
	}
	view := txStatusView{
		TxHash:   st.TxHash.Hex(),
		Status:   string(st.Status),
		Block:    st.Block,
		Explorer: s.info.ExplorerLink(st.TxHash),
	}
	if st.CreatedJobID != nil {
		id := st.CreatedJobID.String()
		view.CreatedJobID = &id
	}
	return view, nil
}
