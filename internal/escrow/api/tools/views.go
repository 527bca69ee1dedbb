package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
)

type outcomeView struct {
	Success     bool       `json:"success"`
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	TxHash      string     `json:"tx_hash"`
	Explorer    string     `json:"explorer,omitempty"`
	Worker      string     `json:"worker,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Deliverable string     `json:"deliverable,omitempty"`
	Job         *jobView   `json:"job,omitempty"`
}

type jobView struct {
	JobID        string     `json:"job_id"`
	Employer     string     `json:"employer"`
	Worker       string     `json:"worker"`
	Amount       string     `json:"amount"`
	WorkerPayout string     `json:"worker_payout"`
	Deadline     time.Time  `json:"deadline"`
	Status       string     `json:"status"`
	Deliverable  string     `json:"deliverable"`
	DisputeTime  *time.Time `json:"dispute_time"`
}

type txStatusView struct {
	TxHash       string  `json:"tx_hash"`
	Status       string  `json:"status"`
	Block        uint64  `json:"block,omitempty"`
	CreatedJobID *string `json:"created_job_id,omitempty"`
	Explorer     string  `json:"explorer,omitempty"`
}

type errorView struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
}

func (s *Server) outcomeView(out *core.Outcome, message string) outcomeView {
	view := outcomeView{
		Success:  true,
		JobID:    out.Receipt.JobID.String(),
		Status:   string(out.Receipt.Status),
		Message:  message,
		TxHash:   out.Receipt.TxHash.Hex(),
		Explorer: s.info.ExplorerLink(out.Receipt.TxHash),
	}
	if out.Job != nil {
		job := s.jobView(out.Job)
		view.Job = &job
	}
	return view
}

func (s *Server) jobView(job *core.Job) jobView {
	p := s.service.Projector()
	return jobView{
		JobID:        job.ID.String(),
		Employer:     job.Employer.Hex(),
		Worker:       job.Worker.Hex(),
		Amount:       p.FormatAmount(job.Amount),
		WorkerPayout: p.FormatAmount(job.WorkerPayout(s.service.FeeBasisPoints())),
		Deadline:     job.Deadline,
		Status:       string(job.Status),
		Deliverable:  job.Deliverable,
		DisputeTime:  job.DisputeTime,
	}
}

func toErrorView(err error) errorView {
	view := errorView{
		Error:   string(core.KindOf(err)),
		Message: core.DetailOf(err),
	}
	if hash, ok := core.TxRefOf(err); ok {
		view.TxHash = hash.Hex()
	}
	return view
}

func textResult(v any, isError bool) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%q", err.Error()))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		IsError: isError,
	}
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func jobIDProperty(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"integer", "string"}, Description: description}
}

func jobIDSchema(description string) *jsonschema.Schema {
	return objectSchema([]string{"job_id"}, map[string]*jsonschema.Schema{"job_id": jobIDProperty(description)})
}

func (s *Server) registerTools() {
	fee := s.service.FeeBasisPoints()
	workerShare := fmt.Sprintf("%g%%", float64(10_000-fee)/100)
	feeShare := fmt.Sprintf("%g%%", float64(fee)/100)

	addTool(s, &mcp.Tool{
		Name:        "create_escrow",
		Description: "Create a new escrow job. Deposits payment and creates a job for the specified worker.",
		InputSchema: objectSchema([]string{"worker_address", "amount_eth", "deadline_hours"}, map[string]*jsonschema.Schema{
			"worker_address": {Type: "string", Description: "Address of the worker who will perform the job (0x...)"},
			"amount_eth":     {Type: "string", Description: "Payment amount in ETH (e.g. '0.01')"},
			"deadline_hours": {Type: "number", Description: fmt.Sprintf("Hours from now until the job expires (e.g. 24, at most %d)", core.MaxDeadlineHours)},
		}),
	}, s.createEscrow)

	addTool(s, &mcp.Tool{
		Name:        "submit_work",
		Description: "Submit completed work for an escrow job with a deliverable reference (IPFS hash, URL).",
		InputSchema: objectSchema([]string{"job_id", "deliverable"}, map[string]*jsonschema.Schema{
			"job_id":      jobIDProperty("The escrow job ID"),
			"deliverable": {Type: "string", Description: "Reference to the completed work"},
		}),
	}, s.submitWork)

	addTool(s, &mcp.Tool{
		Name:        "approve_work",
		Description: fmt.Sprintf("Approve submitted work and release payment. The worker receives %s, service fee %s.", workerShare, feeShare),
		InputSchema: jobIDSchema("The escrow job ID to approve"),
	}, s.transition(core.ApproveWork{}, "Payment released to worker"))

	addTool(s, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Cancel an expired job and refund the employer. Only works after the deadline when no work was submitted.",
		InputSchema: jobIDSchema("The escrow job ID to cancel"),
	}, s.transition(core.CancelJob{}, "Job cancelled, refund issued"))

	addTool(s, &mcp.Tool{
		Name:        "dispute_job",
		Description: "Raise a dispute for a job and start the resolution window.",
		InputSchema: jobIDSchema("The escrow job ID to dispute"),
	}, s.transition(core.DisputeJob{}, "Dispute raised, resolution window started"))

	addTool(s, &mcp.Tool{
		Name:        "resolve_dispute",
		Description: "Resolve a disputed job once the resolution window has passed.",
		InputSchema: jobIDSchema("The disputed job ID to resolve"),
	}, s.transition(core.ResolveDispute{}, "Dispute resolved"))

	addTool(s, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Get the current status and details of an escrow job.",
		InputSchema: jobIDSchema("The escrow job ID to query"),
	}, s.jobStatus)

	addTool(s, &mcp.Tool{
		Name:        "get_job_count",
		Description: "Get the total number of escrow jobs created.",
		InputSchema: objectSchema(nil, map[string]*jsonschema.Schema{}),
	}, s.jobCount)

	addTool(s, &mcp.Tool{
		Name:        "get_transaction_status",
		Description: "Check a previously submitted transaction without resubmitting it.",
		InputSchema: objectSchema([]string{"tx_hash"}, map[string]*jsonschema.Schema{
			"tx_hash": {Type: "string", Description: "Transaction hash (0x...)"},
		}),
	}, s.transactionStatus)
}
