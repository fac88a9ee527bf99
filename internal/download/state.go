package download

import (
	"encoding/json"
	"os"
)

// fetchState is the sidecar control file written next to a segmented .part
// download. It records which chunks finished so an interrupted fetch resumes
// at chunk granularity instead of restarting.
type fetchState struct {
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	ChunkSize int64  `json:"chunk_size"`
	Completed []bool `json:"completed"`
}

func newFetchState(url string, size, chunkSize int64) *fetchState {
	chunks := int((size + chunkSize - 1) / chunkSize)
	return &fetchState{
		URL:       url,
		Size:      size,
		ChunkSize: chunkSize,
		Completed: make([]bool, chunks),
	}
}

func loadFetchState(path string) (*fetchState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st fetchState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *fetchState) save(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// matches reports whether the recorded state belongs to the same fetch.
func (s *fetchState) matches(url string, size int64) bool {
	return s != nil && s.URL == url && s.Size == size && s.ChunkSize > 0 && len(s.Completed) > 0
}

// pending returns the indexes of chunks that still need fetching.
func (s *fetchState) pending() []int {
	var out []int
	for i, done := range s.Completed {
		if !done {
			out = append(out, i)
		}
	}
	return out
}

// chunkRange returns the inclusive byte range covered by chunk i.
func (s *fetchState) chunkRange(i int) (start, end int64) {
	start = int64(i) * s.ChunkSize
	end = start + s.ChunkSize - 1
	if end >= s.Size {
		end = s.Size - 1
	}
	return start, end
}
