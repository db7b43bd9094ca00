package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BuildInfo is a Hardhat build-info file: the solc standard JSON input that
// produced a set of artifacts.
type BuildInfo struct {
	Format          string          `json:"_format,omitempty"`
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
}

// CompilerVersion returns the version string explorers expect, e.g.
// "v0.8.27+commit.40a35a09".
func (b *BuildInfo) CompilerVersion() string {
	v := b.SolcLongVersion
	if v == "" {
		v = b.SolcVersion
	}
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

type debugFile struct {
	BuildInfo string `json:"buildInfo"`
}

// Registry indexes artifacts by contract name and fully qualified name.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string][]*Artifact
	byFQN      map[string]*Artifact
	buildInfos map[string]*BuildInfo
}

// New returns a registry holding the given artifacts.
func New(artifacts ...*Artifact) *Registry {
	r := &Registry{
		byName:     make(map[string][]*Artifact),
		byFQN:      make(map[string]*Artifact),
		buildInfos: make(map[string]*BuildInfo),
	}
	for _, a := range artifacts {
		r.Add(a, nil)
	}
	return r
}

// Add registers an artifact, optionally with the build info it came from.
func (r *Registry) Add(a *Artifact, info *BuildInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fqn := a.FullyQualifiedName()
	if _, ok := r.byFQN[fqn]; !ok {
		r.byName[a.ContractName] = append(r.byName[a.ContractName], a)
	}
	r.byFQN[fqn] = a
	if info != nil {
		r.buildInfos[fqn] = info
	}
}

// LoadDir loads every artifact below dir, normally Hardhat's artifacts/
// directory. Debug files link artifacts to their build info.
func LoadDir(dir string) (*Registry, error) {
	r := New()

	artifactFiles := make(map[string]*Artifact)
	debugLinks := make(map[string]string)
	buildInfos := make(map[string]*BuildInfo)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		switch {
		case strings.HasSuffix(path, ".dbg.json"):
			var dbg debugFile
			if err := json.Unmarshal(data, &dbg); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			if dbg.BuildInfo != "" {
				artifactPath := strings.TrimSuffix(path, ".dbg.json") + ".json"
				debugLinks[artifactPath] = filepath.Clean(filepath.Join(filepath.Dir(path), dbg.BuildInfo))
			}
		case filepath.Base(filepath.Dir(path)) == "build-info":
			var info BuildInfo
			if err := json.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			buildInfos[filepath.Clean(path)] = &info
		default:
			a, err := ParseArtifact(data)
			if errors.Is(err, ErrNotAnArtifact) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			artifactFiles[path] = a
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load artifacts from %s: %w", dir, err)
	}

	for path, a := range artifactFiles {
		r.Add(a, buildInfos[debugLinks[path]])
	}
	return r, nil
}

// Artifact returns the artifact for a contract name or a fully qualified
// "path/To.sol:Name".
func (r *Registry) Artifact(name string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.Contains(name, ":") {
		if a, ok := r.byFQN[name]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}

	matches := r.byName[name]
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAmbiguousArtifact, name)
}

// BuildInfoFor returns the build info that compiled the named contract.
func (r *Registry) BuildInfoFor(name string) (*BuildInfo, error) {
	a, err := r.Artifact(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.buildInfos[a.FullyQualifiedName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBuildInfoNotFound, name)
	}
	return info, nil
}

// Names returns the fully qualified names of every artifact, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byFQN))
	for fqn := range r.byFQN {
		names = append(names, fqn)
	}
	sort.Strings(names)
	return names
}
