package bundle

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"redelk/internal/agent"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// DefaultVerifyTimeout bounds a self-test.
const DefaultVerifyTimeout = 30 * time.Second

const maxMember = 8 << 20

// Check is one verification result.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report collects the checks of a verification run.
type Report struct {
	Checks []Check
}

func (r *Report) add(name string, err error) {
	c := Check{Name: name, OK: err == nil}
	if err != nil {
		c.Detail = err.Error()
	}
	r.Checks = append(r.Checks, c)
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	if len(r.Checks) == 0 {
		return false
	}
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Print writes one line per check and the final verdict.
func (r *Report) Print(w io.Writer) {
	for _, c := range r.Checks {
		if c.OK {
			fmt.Fprintf(w, "PASS  %s\n", c.Name)
		} else {
			fmt.Fprintf(w, "FAIL  %s: %s\n", c.Name, c.Detail)
		}
	}
	if r.Passed() {
		fmt.Fprintln(w, "Result: PASS")
	} else {
		fmt.Fprintln(w, "Result: FAIL")
	}
}

// Verify self-tests the bundle at file: manifest hashes, required
// members and the TLS settings of each Filebeat template. It stops at
// the context deadline and reports the remaining work as failed.
func Verify(ctx context.Context, file string) *Report {
	r := &Report{}
	members, err := readArchive(ctx, file)
	if err != nil {
		r.add("read archive", err)
		return r
	}
	r.add("read archive", nil)

	raw, ok := members[ManifestName]
	if !ok {
		r.add("manifest present", errors.New("missing "+ManifestName))
		return r
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		r.add("manifest present", fmt.Errorf("parse manifest: %w", err))
		return r
	}
	r.add("manifest present", nil)

	r.add("manifest hashes", checkHashes(m, members))

	for _, name := range RequiredMembers() {
		if _, ok := members[name]; !ok {
			r.add("required "+name, errors.New("missing"))
		}
	}

	names := make([]string, 0, len(members))
	for name := range members {
		if strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data := members[name]
		if err := ctx.Err(); err != nil {
			r.add("verify "+name, err)
			continue
		}
		r.add("config "+name, checkTemplate(name, data))
	}
	return r
}

func readArchive(ctx context.Context, file string) (map[string][]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	members := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, fmt.Errorf("unsafe member name %q", hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxMember+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxMember {
			return nil, fmt.Errorf("member %s too large", name)
		}
		members[name] = data
	}
	return members, nil
}

func checkHashes(m Manifest, members map[string][]byte) error {
	listed := make(map[string]bool)
	for _, e := range m.Files {
		listed[e.Path] = true
		data, ok := members[e.Path]
		if !ok {
			return fmt.Errorf("%s listed but missing", e.Path)
		}
		if digest(data) != e.SHA256 {
			return fmt.Errorf("%s: checksum mismatch", e.Path)
		}
	}
	for name := range members {
		if name != ManifestName && !listed[name] {
			return fmt.Errorf("%s not in manifest", name)
		}
	}
	return nil
}

type templateDoc struct {
	Inputs []struct {
		FieldsUnderRoot bool `yaml:"fields_under_root"`
		Fields          struct {
			Infra struct {
				Log struct {
					Type string `yaml:"type"`
				} `yaml:"log"`
			} `yaml:"infra"`
		} `yaml:"fields"`
	} `yaml:"filebeat.inputs"`
	Processors []struct {
		AddFields *struct {
			Target *string           `yaml:"target"`
			Fields map[string]string `yaml:"fields"`
		} `yaml:"add_fields"`
	} `yaml:"processors"`
	Output struct {
		Hosts       []string `yaml:"hosts"`
		SSLEnabled  bool     `yaml:"ssl.enabled"`
		Authorities []string `yaml:"ssl.certificate_authorities"`
	} `yaml:"output.logstash"`
}

func checkTemplate(name string, data []byte) error {
	var doc templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if !doc.Output.SSLEnabled {
		return errors.New("ssl.enabled is not true")
	}
	if len(doc.Output.Authorities) == 0 || doc.Output.Authorities[0] == "" {
		return errors.New("no pinned certificate authority")
	}
	if len(doc.Output.Hosts) == 0 {
		return errors.New("no logstash hosts")
	}
	if len(doc.Inputs) == 0 {
		return errors.New("no inputs")
	}

	role := agent.RoleRedirector
	if strings.HasPrefix(name, roleDir(agent.RoleC2)+"/") {
		role = agent.RoleC2
	}
	if err := checkRoleField(doc, agent.RoleField(role)); err != nil {
		return err
	}
	allowed := agent.AllowedLogTypes(role)
	for i, in := range doc.Inputs {
		if !in.FieldsUnderRoot {
			return fmt.Errorf("input %d: fields_under_root is not true", i)
		}
		if !contains(allowed, in.Fields.Infra.Log.Type) {
			return fmt.Errorf("input %d: log type %q not allowed for %s", i, in.Fields.Infra.Log.Type, role)
		}
	}
	return nil
}

func checkRoleField(doc templateDoc, want string) error {
	for _, p := range doc.Processors {
		if p.AddFields == nil || p.AddFields.Target == nil || *p.AddFields.Target != "" {
			continue
		}
		got, ok := p.AddFields.Fields["role"]
		if !ok {
			continue
		}
		if got != want {
			return fmt.Errorf("role field is %q, want %q", got, want)
		}
		return nil
	}
	return errors.New("no top-level role field")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
