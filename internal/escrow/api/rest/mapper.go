package rest

import (
	"net/http"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/escrow/service"
)

var statusByKind = map[core.Kind]int{
	core.KindValidation:              http.StatusBadRequest,
	core.KindNotFound:                http.StatusNotFound,
	core.KindInvalidTransition:       http.StatusConflict,
	core.KindRejectedExternally:      http.StatusConflict,
	core.KindTransientNetwork:        http.StatusBadGateway,
	core.KindSubmittedButUnconfirmed: http.StatusGatewayTimeout,
	core.KindTimeout:                 http.StatusGatewayTimeout,
	core.KindSequencerStuck:          http.StatusServiceUnavailable,
}

// HTTPStatus maps an error kind onto a response code.
func HTTPStatus(kind core.Kind) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func ToJobResponse(job *core.Job, p core.Projector, feeBasisPoints int64) JobResponse {
	return JobResponse{
		JobID:        job.ID.String(),
		Employer:     job.Employer.Hex(),
		Worker:       job.Worker.Hex(),
		Amount:       p.FormatAmount(job.Amount),
		AmountWei:    job.Amount.String(),
		WorkerPayout: p.FormatAmount(job.WorkerPayout(feeBasisPoints)),
		Deadline:     job.Deadline,
		Status:       string(job.Status),
		StatusCode:   job.StatusCode,
		Deliverable:  job.Deliverable,
		DisputeTime:  job.DisputeTime,
	}
}

func ToTransitionResponse(out *core.Outcome, info core.ServiceInfo, p core.Projector, feeBasisPoints int64) TransitionResponse {
	resp := TransitionResponse{
		Success:  true,
		Action:   string(out.Receipt.Action),
		JobID:    out.Receipt.JobID.String(),
		TxHash:   out.Receipt.TxHash.Hex(),
		Block:    out.Receipt.Block,
		Explorer: info.ExplorerLink(out.Receipt.TxHash),
	}
	if out.Job != nil {
		job := ToJobResponse(out.Job, p, feeBasisPoints)
		resp.Job = &job
	}
	return resp
}

func ToTxStatusResponse(st *core.TxStatus, info core.ServiceInfo) TxStatusResponse {
	resp := TxStatusResponse{
		TxHash:   st.TxHash.Hex(),
		Status:   string(st.Status),
		Block:    st.Block,
		Explorer: info.ExplorerLink(st.TxHash),
	}
	if st.CreatedJobID != nil {
		id := st.CreatedJobID.String()
		resp.CreatedJobID = &id
	}
	return resp
}

func ToHealthResponse(r service.HealthReport) HealthResponse {
	status := "ok"
	if !r.Healthy() {
		status = "degraded"
	}
	return HealthResponse{
		Status:          status,
		LedgerReachable: r.LedgerReachable,
		LedgerError:     r.LedgerError,
		SequencerStuck:  r.SequencerStuck,
		CheckedAt:       r.CheckedAt,
	}
}

func ToErrorResponse(err error) ErrorResponse {
	kind := core.KindOf(err)
	resp := ErrorResponse{
		Error:   string(kind),
		Message: core.DetailOf(err),
		Code:    HTTPStatus(kind),
	}
	if hash, ok := core.TxRefOf(err); ok {
		resp.TxHash = hash.Hex()
	}
	return resp
}
