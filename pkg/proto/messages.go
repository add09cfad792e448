// Package proto defines the message types exchanged with the classifier over
// the JSON-over-TCP RPC layer (see pkg/rpc).
package proto

// Method names served by the classifier service.
const (
	MethodClassify = "Classifier.Classify"
	MethodInfo     = "Classifier.Info"
)

// ClassifyRequest is the input to the Classify RPC.
type ClassifyRequest struct {
	Text    string `json:"text"`
	Explain bool   `json:"explain,omitempty"`
}

// ClassifyResponse is the output of the Classify RPC. Neighbors and Votes are
// filled only when Explain was requested.
type ClassifyResponse struct {
	Label         string         `json:"label"`
	Neighbors     []Neighbor     `json:"neighbors,omitempty"`
	Votes         map[string]int `json:"votes,omitempty"`
	CorpusVersion string         `json:"corpus_version"`
	CacheHit      bool           `json:"cache_hit"`
	LatencyMs     int64          `json:"latency_ms"`
}

// Neighbor is one corpus entry in the voting set.
type Neighbor struct {
	Index    int     `json:"index"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// InfoRequest takes no parameters.
type InfoRequest struct{}

// InfoResponse describes the loaded classifier.
type InfoResponse struct {
	Algorithm     string         `json:"algorithm"`
	Level         int            `json:"level"`
	K             int            `json:"k"`
	CorpusSize    int            `json:"corpus_size"`
	Labels        map[string]int `json:"labels"`
	CorpusVersion string         `json:"corpus_version"`
	Source        string         `json:"source"`
	LoadedAt      int64          `json:"loaded_at"`
}
