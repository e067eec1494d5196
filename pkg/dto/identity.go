package dto

type EnrollRequest struct {
	Name string `json:"name" binding:"required"`
}

type IdentityResponse struct {
	Label     string `json:"label"`
	SourceKey string `json:"source_key"`
}

type StreamStatusResponse struct {
	State      string `json:"state"`
	Ready      bool   `json:"ready"`
	Frames     uint64 `json:"frames"`
	Reconnects uint64 `json:"reconnects"`
	LastError  string `json:"last_error,omitempty"`
	LatestSeq  uint64 `json:"latest_seq"`
	LatestAt   string `json:"latest_at,omitempty"`
}
