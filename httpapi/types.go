package httpapi

import (
	"encoding/json"

	"github.com/mrtj/dynamodb-connection/codec"
	"github.com/mrtj/dynamodb-connection/editor"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/reconcile"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// CommitRequest is the body of POST /commit.
type CommitRequest struct {
	Rows  []codec.EditedRow `json:"rows"`
	Hints codec.Hints       `json:"hints,omitempty"`
}

// CommitResponse reports what a commit wrote. Rows that failed stay
// pending and are listed in Failed.
type CommitResponse struct {
	CommitID   string        `json:"commitId"`
	OK         bool          `json:"ok"`
	Inserted   int           `json:"inserted"`
	Deleted    int           `json:"deleted"`
	Modified   int           `json:"modified"`
	Succeeded  []item.Key    `json:"succeeded"`
	Failed     []FailedRow   `json:"failed"`
	CellErrors []CellProblem `json:"cellErrors,omitempty"`
}

// FailedRow is one row that could not be written.
type FailedRow struct {
	Key     item.Key            `json:"key"`
	Op      string              `json:"op"`
	Kind    reconcile.ErrorKind `json:"kind"`
	Message string              `json:"message"`
}

// CellProblem is one cell that could not be decoded. The row was written
// with the cell's prior value.
type CellProblem struct {
	Row       string `json:"row"`
	Attribute string `json:"attribute"`
	Text      string `json:"text"`
	Message   string `json:"message"`
}

// ItemResponse is the body of GET /items/{key}. Attribute values are
// rendered in the grid's JSON form.
type ItemResponse struct {
	Key  item.Key                   `json:"key"`
	Item map[string]json.RawMessage `json:"item"`
}

// StaleResponse lists the rows changed remotely since they were loaded.
type StaleResponse struct {
	Keys []item.Key `json:"keys"`
}

func newCommitResponse(res *editor.Result) CommitResponse {
	ins, del, mod := res.Diff.Count()
	out := CommitResponse{
		CommitID:  res.CommitID,
		OK:        res.OK() && len(res.CellErrors) == 0,
		Inserted:  ins,
		Deleted:   del,
		Modified:  mod,
		Succeeded: res.Succeeded,
		Failed:    make([]FailedRow, 0, len(res.Failed)),
	}
	if out.Succeeded == nil {
		out.Succeeded = []item.Key{}
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, FailedRow{
			Key:     f.Key,
			Op:      f.Op.String(),
			Kind:    f.Kind,
			Message: f.Err.Error(),
		})
	}
	for _, ce := range res.CellErrors {
		out.CellErrors = append(out.CellErrors, CellProblem{
			Row:       ce.Row,
			Attribute: ce.Attribute,
			Text:      ce.Text,
			Message:   ce.Err.Error(),
		})
	}
	return out
}

func newItemResponse(k item.Key, it item.Item) ItemResponse {
	out := ItemResponse{Key: k, Item: make(map[string]json.RawMessage, len(it))}
	for name, v := range it {
		out.Item[name] = json.RawMessage(codec.MarshalJSONValue(v))
	}
	return out
}
