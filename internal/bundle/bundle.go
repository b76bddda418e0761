// Package bundle packs the Filebeat templates and the CA certificate into
// a tarball operators copy onto C2 servers and redirectors.
package bundle

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"redelk/internal/agent"
	"redelk/internal/layout"

	"github.com/klauspost/compress/gzip"
)

// ManifestName is the archive member listing every other member.
const ManifestName = "MANIFEST.json"

const caName = "redelkCA.crt"

// Options controls Create.
type Options struct {
	Output  string
	CACert  string // optional; skipped with a warning when missing
	Server  string // defaults to the REDELK_HOST placeholder
	Port    int
	Version string
	Now     func() time.Time
}

// Entry is one manifest line.
type Entry struct {
	Path   string `json:"path"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest describes a bundle.
type Manifest struct {
	Version string    `json:"version"`
	Created time.Time `json:"created"`
	Server  string    `json:"server"`
	Files   []Entry   `json:"files"`
}

// roleDir is where a role's files live inside the archive.
func roleDir(r agent.Role) string {
	if r == agent.RoleC2 {
		return "c2servers/filebeat"
	}
	return "redirs/filebeat"
}

// templateName is the member name of a program's Filebeat template.
func templateName(r agent.Role, program string) string {
	return path.Join(roleDir(r), "filebeat-"+program+".yml")
}

// RequiredMembers lists the templates every bundle must contain.
func RequiredMembers() []string {
	var out []string
	for _, r := range []agent.Role{agent.RoleC2, agent.RoleRedirector} {
		for _, p := range agent.Programs(r) {
			out = append(out, templateName(r, p))
		}
	}
	return out
}

// Create renders one template per program, adds the CA certificate and
// writes the gzip tarball atomically. It returns the manifest and whether
// the CA was included.
func Create(opts Options) (*Manifest, bool, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	files := make(map[string][]byte)

	for _, r := range []agent.Role{agent.RoleC2, agent.RoleRedirector} {
		for _, p := range agent.Programs(r) {
			data, err := agent.RenderFilebeat(agent.Config{
				Role:           r,
				Hostname:       agent.PlaceholderName,
				AttackScenario: agent.PlaceholderScenario,
				Server:         opts.Server,
				Port:           opts.Port,
				Programs:       []string{p},
			})
			if err != nil {
				return nil, false, fmt.Errorf("render %s template: %w", p, err)
			}
			files[templateName(r, p)] = data
		}
	}

	withCA := false
	if opts.CACert != "" {
		ca, err := os.ReadFile(opts.CACert)
		switch {
		case err == nil:
			files[path.Join(roleDir(agent.RoleC2), caName)] = ca
			files[path.Join(roleDir(agent.RoleRedirector), caName)] = ca
			withCA = true
		case !os.IsNotExist(err):
			return nil, false, fmt.Errorf("read CA certificate: %w", err)
		}
	}

	server := opts.Server
	if server == "" {
		server = agent.PlaceholderServer
	}
	m := &Manifest{Version: opts.Version, Created: now().UTC(), Server: server}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.Files = append(m.Files, Entry{Path: name, Size: len(files[name]), SHA256: digest(files[name])})
	}
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("marshal manifest: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	add := func(name string, data []byte, mode int64) error {
		hdr := &tar.Header{Name: name, Mode: mode, Size: int64(len(data)), ModTime: m.Created, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}
	if err := add(ManifestName, manifest, 0644); err != nil {
		return nil, false, err
	}
	for _, name := range names {
		if err := add(name, files[name], 0600); err != nil {
			return nil, false, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, false, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, false, fmt.Errorf("close gzip: %w", err)
	}

	if err := layout.WriteFileAtomic(opts.Output, buf.Bytes(), 0644); err != nil {
		return nil, false, fmt.Errorf("write bundle: %w", err)
	}
	return m, withCA, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
