package txn

import "github.com/chronicals/sdk/jsonrpc"

// ActionRef identifies the action a START_TRANSACTION invocation targets.
type ActionRef struct {
	Slug string `json:"slug"`
}

// StartTransactionParams is the wire shape of the START_TRANSACTION call.
type StartTransactionParams struct {
	TransactionID              string    `json:"transactionId"`
	Action                     ActionRef `json:"action"`
	User                       any       `json:"user,omitempty"`
	Environment                string    `json:"environment,omitempty"`
	Params                     any       `json:"params,omitempty"`
	ParamsMeta                 any       `json:"paramsMeta,omitempty"`
	DisplayResolvesImmediately bool      `json:"displayResolvesImmediately,omitempty"`
	RequestID                  string    `json:"requestId,omitempty"`
}

// CloseTransactionParams is the wire shape of the CLOSE_TRANSACTION call.
type CloseTransactionParams struct {
	TransactionID string `json:"transactionId"`
}

// IOResponseParams is the wire shape of the IO_RESPONSE call: the actual
// answer is embedded, JSON-encoded, in Value (see ioclient.ParseIOResponse).
type IOResponseParams struct {
	Value string `json:"value"`
}

// MarkTransactionCompleteParams is the wire shape of the
// MARK_TRANSACTION_COMPLETE call the host sends once a handler settles.
type MarkTransactionCompleteParams struct {
	TransactionID string `json:"transactionId"`
	ResultStatus  string `json:"resultStatus"`
	Result        string `json:"result"`
}

// SendLogParams is the wire shape of the SEND_LOG call.
type SendLogParams struct {
	TransactionID string `json:"transactionId"`
	Data          string `json:"data"`
	Index         int    `json:"index"`
	Timestamp     int64  `json:"timestamp"`
}

// SendRedirectParams is the wire shape of the SEND_REDIRECT call.
type SendRedirectParams struct {
	TransactionID string `json:"transactionId"`
	Props         any    `json:"props,omitempty"`
}

// successEnvelope is the stringified payload of a successful completion.
type successEnvelope struct {
	SchemaVersion int    `json:"schemaVersion"`
	Status        string `json:"status"`
	Data          any    `json:"data,omitempty"`
	Meta          any    `json:"meta,omitempty"`
}

// failureData is the body of a failed completion's Data field.
type failureData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

type failureEnvelope struct {
	Status string      `json:"status"`
	Data   failureData `json:"data"`
}

const envelopeSchemaVersion = 1

func marshalSuccess(data any) (string, error) {
	raw, err := jsonrpc.Marshal(successEnvelope{SchemaVersion: envelopeSchemaVersion, Status: "SUCCESS", Data: data})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func marshalFailure(err error) (string, error) {
	fd := failureData{Error: "Error", Message: err.Error()}
	raw, marshalErr := jsonrpc.Marshal(failureEnvelope{Status: "FAILURE", Data: fd})
	if marshalErr != nil {
		return "", marshalErr
	}
	return string(raw), nil
}
