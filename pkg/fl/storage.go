package fl

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FileStore keeps round records as JSON documents and model versions as CBOR
// blobs in two directories.
type FileStore struct {
	roundsDir string
	modelsDir string
	mu        sync.RWMutex
}

func NewFileStore(roundsDir, modelsDir string) (*FileStore, error) {
	if err := os.MkdirAll(roundsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create rounds directory: %w", err)
	}
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	return &FileStore{
		roundsDir: roundsDir,
		modelsDir: modelsDir,
	}, nil
}

func (fs *FileStore) SaveRound(r RoundRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := sanitizeID(r.ID)
	if id == "" {
		return fmt.Errorf("invalid round ID: %q", r.ID)
	}

	name := fmt.Sprintf("round_%06d_%02d_%s.json", r.Round, r.Attempt, id)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal round record: %w", err)
	}

	if err := os.WriteFile(filepath.Join(fs.roundsDir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write round file: %w", err)
	}

	return nil
}

// ListRounds returns every stored record ordered by round and attempt.
func (fs *FileStore) ListRounds() ([]RoundRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.roundsDir)
	if err != nil {
		return nil, err
	}

	var records []RoundRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "round_") || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.roundsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read round file: %w", err)
		}
		var r RoundRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal round record: %w", err)
		}
		records = append(records, r)
	}

	slices.SortFunc(records, func(a, b RoundRecord) int {
		if a.Round != b.Round {
			return cmp.Compare(a.Round, b.Round)
		}

		return cmp.Compare(a.Attempt, b.Attempt)
	})

	return records, nil
}

func (fs *FileStore) SaveModel(ps ParameterSet) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := ps.Blob()
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(fs.modelPath(ps.Version), data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	return nil
}

func (fs *FileStore) LoadModel(version uint64) (ParameterSet, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.modelPath(version))
	if err != nil {
		return ParameterSet{}, fmt.Errorf("failed to read model file: %w", err)
	}

	return ParseBlob(data)
}

func (fs *FileStore) ListModels() ([]uint64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.modelsDir)
	if err != nil {
		return nil, err
	}

	var versions []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var version uint64
		if _, err := fmt.Sscanf(entry.Name(), "model_v%d.cbor", &version); err == nil {
			versions = append(versions, version)
		}
	}
	slices.Sort(versions)

	return versions, nil
}

func (fs *FileStore) modelPath(version uint64) string {
	return filepath.Join(fs.modelsDir, fmt.Sprintf("model_v%d.cbor", version))
}

// sanitizeID keeps only characters that are safe inside a file name.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
