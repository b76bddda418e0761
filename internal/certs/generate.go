package certs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"redelk/internal/executor"
	"redelk/internal/layout"

	"github.com/sirupsen/logrus"
)

// File names inside the certs directory.
const (
	ConfigFile    = "config.cnf"
	CAKeyFile     = "redelkCA.key"
	CACertFile    = "redelkCA.crt"
	ServerKeyFile = "elkserver.key"
	ServerPEMFile = "elkserver.key.pem"
	ServerCSRFile = "elkserver.csr"
	ServerCrtFile = "elkserver.crt"
)

// Generator writes certificates under a RedELK layout.
type Generator struct {
	Runner executor.Runner
	Layout layout.Layout
	Logger *logrus.Entry
	DryRun bool
}

func (g *Generator) log() *logrus.Entry {
	if g.Logger == nil {
		g.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return g.Logger
}

func (g *Generator) file(name string) string {
	return filepath.Join(g.Layout.CertsDir(), name)
}

// CACert is the path of the CA certificate.
func (g *Generator) CACert() string {
	return g.file(CACertFile)
}

// Exists reports whether a CA and a server certificate are already present.
func (g *Generator) Exists() bool {
	for _, name := range []string{CACertFile, CAKeyFile, ServerCrtFile, ServerKeyFile} {
		if !layout.Exists(g.file(name)) {
			return false
		}
	}
	return true
}

// Generate writes the openssl config and runs the openssl sequence: CA key,
// self-signed CA, server key, CSR, CA-signed server certificate and the
// PKCS#8 conversion Logstash needs. The original key is kept as .key.pem.
func (g *Generator) Generate(ctx context.Context, r Request) error {
	r = r.withDefaults()
	if err := r.Validate(); err != nil {
		return err
	}

	dir := g.Layout.CertsDir()
	cnf := g.file(ConfigFile)
	if g.DryRun {
		g.log().Infof("dry-run: write %s", cnf)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create certs directory: %w", err)
		}
		if err := layout.WriteFileAtomic(cnf, []byte(RenderOpenSSLConfig(r)), 0644); err != nil {
			return fmt.Errorf("write openssl config: %w", err)
		}
	}

	days := strconv.Itoa(r.Days)
	bits := strconv.Itoa(r.KeyBits)
	steps := []struct {
		what string
		args []string
	}{
		{"generate CA key", []string{"genrsa", "-out", g.file(CAKeyFile), bits}},
		{"create CA certificate", []string{"req", "-new", "-x509", "-days", days,
			"-key", g.file(CAKeyFile), "-out", g.file(CACertFile),
			"-extensions", "v3_ca", "-config", cnf}},
		{"generate server key", []string{"genrsa", "-out", g.file(ServerKeyFile), bits}},
		{"create server CSR", []string{"req", "-new",
			"-key", g.file(ServerKeyFile), "-out", g.file(ServerCSRFile), "-config", cnf}},
		{"sign server certificate", []string{"x509", "-req", "-days", days,
			"-in", g.file(ServerCSRFile), "-CA", g.file(CACertFile), "-CAkey", g.file(CAKeyFile),
			"-CAcreateserial", "-out", g.file(ServerCrtFile),
			"-extensions", "v3_req", "-extfile", cnf}},
	}
	for _, s := range steps {
		g.log().Debugf("openssl: %s", s.what)
		if _, err := g.Runner.Run(ctx, executor.Command{Name: "openssl", Args: s.args, Dir: dir}); err != nil {
			return fmt.Errorf("%s: %w", s.what, err)
		}
	}

	if !g.DryRun {
		if err := layout.CopyFile(g.file(ServerKeyFile), g.file(ServerPEMFile), 0600); err != nil {
			return fmt.Errorf("keep server key: %w", err)
		}
	}
	pkcs8 := []string{"pkcs8", "-in", g.file(ServerPEMFile), "-topk8", "-nocrypt", "-out", g.file(ServerKeyFile)}
	if _, err := g.Runner.Run(ctx, executor.Command{Name: "openssl", Args: pkcs8, Dir: dir}); err != nil {
		return fmt.Errorf("convert server key to pkcs8: %w", err)
	}

	if !g.DryRun {
		for _, name := range []string{CAKeyFile, ServerKeyFile, ServerPEMFile} {
			if err := os.Chmod(g.file(name), 0600); err != nil && !os.IsNotExist(err) {
				g.log().Warnf("restrict %s: %v", name, err)
			}
		}
	}
	g.log().Infof("certificates written to %s", dir)
	return nil
}

// Distribute copies every certificate file into the Logstash input mount
// and the CA into the agent bundles. Failures are returned as warnings;
// they never abort the caller.
func (g *Generator) Distribute() []error {
	var warnings []error
	copyTo := func(name, dstDir string) {
		src := g.file(name)
		if !layout.Exists(src) {
			if name == CACertFile {
				warnings = append(warnings, fmt.Errorf("CA certificate %s not found", src))
			}
			return
		}
		perm := os.FileMode(0644)
		if name == CAKeyFile || name == ServerKeyFile || name == ServerPEMFile {
			perm = 0600
		}
		if g.DryRun {
			g.log().Infof("dry-run: copy %s to %s", src, dstDir)
			return
		}
		if err := layout.CopyFile(src, filepath.Join(dstDir, name), perm); err != nil {
			warnings = append(warnings, err)
		}
	}

	for _, name := range []string{ConfigFile, CAKeyFile, CACertFile, ServerKeyFile, ServerPEMFile, ServerCSRFile, ServerCrtFile} {
		copyTo(name, g.Layout.CertsInputsDir())
	}
	copyTo(CACertFile, g.Layout.C2FilebeatDir())
	copyTo(CACertFile, g.Layout.RedirFilebeatDir())

	for _, w := range warnings {
		g.log().Warn(w)
	}
	return warnings
}
