// Package paths centralizes the layout of the data directory.
//
//	{dataDir}/
//	  builds/
//	    {id}/
//	      metadata.json
//	      Dockerfile
//	      build.log
//	      iid
//	      context/
package paths

import (
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Paths resolves file locations under the data directory.
type Paths struct {
	dataDir string
}

// New returns Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// BuildsDir returns the directory holding every build record.
func (p *Paths) BuildsDir() string {
	return filepath.Join(p.dataDir, "builds")
}

// BuildDir returns the directory of one build. The id is joined so that it
// can never resolve outside BuildsDir.
func (p *Paths) BuildDir(id string) (string, error) {
	return securejoin.SecureJoin(p.BuildsDir(), id)
}

func (p *Paths) buildFile(id, name string) (string, error) {
	dir, err := p.BuildDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// BuildMetadata returns the path of a build's metadata.json.
func (p *Paths) BuildMetadata(id string) (string, error) {
	return p.buildFile(id, "metadata.json")
}

// BuildDockerfile returns the path of a build's rendered Dockerfile.
func (p *Paths) BuildDockerfile(id string) (string, error) {
	return p.buildFile(id, "Dockerfile")
}

// BuildLog returns the path of a build's engine output.
func (p *Paths) BuildLog(id string) (string, error) {
	return p.buildFile(id, "build.log")
}

// BuildIIDFile returns the path the engine writes the image id to.
func (p *Paths) BuildIIDFile(id string) (string, error) {
	return p.buildFile(id, "iid")
}

// BuildContext returns the isolated build context directory of a build.
func (p *Paths) BuildContext(id string) (string, error) {
	return p.buildFile(id, "context")
}
