package transport

import (
	"github.com/segmentio/encoding/json"

	"github.com/chronicals/sdk/internal/chunk"
)

// wireFrame is the on-the-wire JSON shape for a chunk.Frame: the header
// fields alongside the payload, base64-encoded by the standard
// encoding/json []byte convention (segmentio's encoder follows the same
// convention for []byte fields).
type wireFrame struct {
	FrameID string `json:"frameId"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Payload []byte `json:"payload"`
}

func encodeFrameEnvelope(f chunk.Frame) ([]byte, error) {
	return json.Marshal(wireFrame{
		FrameID: f.Header.FrameID,
		Index:   f.Header.Index,
		Total:   f.Header.Total,
		Payload: f.Payload,
	})
}

func decodeFrameEnvelope(data []byte, out *chunk.Frame) error {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return err
	}
	out.Header = chunk.Header{FrameID: wf.FrameID, Index: wf.Index, Total: wf.Total}
	out.Payload = wf.Payload
	return nil
}
