// Package streamproto holds the wire types of the instance stream.
package streamproto

// Version is the stream protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
	TypeError     = "ERROR"
)

// Client -> Server. First message on the stream connection; may be re-sent
// to move the streaming position or change the budget.
type SubscribeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	StreamingPos    [3]float32 `json:"streaming_pos"`
	Sort            bool       `json:"sort"`
	SortReverse     bool       `json:"sort_reverse"`
	MaxInstances    int        `json:"max_instances"`
}

// Server -> Client. Text header; the next binary message carries Count
// instances of Stride bytes each.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Generation      uint64 `json:"generation"`
	Count           int    `json:"count"`
	Stride          int    `json:"stride"`
	// Errors counts structural violations skipped while extracting.
	Errors int `json:"errors"`
}

// Server -> Client. Sent instead of a frame when nothing can be streamed.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Message         string `json:"message"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Ready           bool   `json:"ready"`
	Generation      uint64 `json:"generation"`
	Depth           uint32 `json:"depth"`
	BrickSize       int    `json:"brick_size"`
	InstanceStride  int    `json:"instance_stride"`
	Nodes           int    `json:"nodes"`
	Bricks          int    `json:"bricks"`
	PaletteDigest   string `json:"palette_digest,omitempty"`
}
